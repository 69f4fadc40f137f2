//go:build darwin

package capture

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

type darwinGrabber struct{ tempDir string }

func newGrabber(tempDir string) grabber {
	return &darwinGrabber{tempDir: tempDir}
}

func (d *darwinGrabber) available() error {
	if _, err := exec.LookPath("screencapture"); err != nil {
		return fmt.Errorf("screencapture not found: %w", err)
	}
	return nil
}

func (d *darwinGrabber) grab(r Region) ([]byte, error) {
	tmpFile := filepath.Join(d.tempDir, "frame.png")
	rect := fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
	cmd := exec.Command("screencapture", "-x", "-t", "png", "-R", rect, tmpFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screencapture failed: %w (%s)", err, stderr.String())
	}
	data, err := os.ReadFile(tmpFile)
	if err != nil {
		return nil, fmt.Errorf("read captured frame: %w", err)
	}
	os.Remove(tmpFile)
	return data, nil
}

func (d *darwinGrabber) cleanup() {}
