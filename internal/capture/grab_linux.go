//go:build linux

package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
)

type linuxGrabber struct{ tempDir string }

func newGrabber(tempDir string) grabber {
	return &linuxGrabber{tempDir: tempDir}
}

func (l *linuxGrabber) available() error {
	if _, err := exec.LookPath("scrot"); err == nil {
		return nil
	}
	if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		return nil
	}
	return errors.New("no screenshot tool found (install scrot or gnome-screenshot)")
}

func (l *linuxGrabber) grab(r Region) ([]byte, error) {
	tmpFile := filepath.Join(l.tempDir, "frame.png")

	// scrot crops natively; gnome-screenshot grabs the full screen and
	// the region is cut out afterwards.
	var cmd *exec.Cmd
	crop := false
	if _, err := exec.LookPath("scrot"); err == nil {
		area := fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
		cmd = exec.Command("scrot", "-a", area, "-o", tmpFile)
	} else if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		cmd = exec.Command("gnome-screenshot", "-f", tmpFile)
		crop = true
	} else {
		return nil, errors.New("no screenshot tool found (install scrot or gnome-screenshot)")
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w (%s)", err, stderr.String())
	}
	data, err := os.ReadFile(tmpFile)
	if err != nil {
		return nil, fmt.Errorf("read captured frame: %w", err)
	}
	os.Remove(tmpFile)

	if crop {
		return cropRegion(data, r)
	}
	return data, nil
}

func (l *linuxGrabber) cleanup() {}

// cropRegion cuts the region out of a full-screen image. Returns
// (nil, nil) when the region falls outside the screen.
func cropRegion(data []byte, r Region) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode full-screen frame: %w", err)
	}

	rect := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
	if !rect.In(img.Bounds()) {
		return nil, nil
	}

	sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("captured image type %T does not support cropping", img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(rect)); err != nil {
		return nil, fmt.Errorf("encode cropped frame: %w", err)
	}
	return buf.Bytes(), nil
}
