package capture

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
)

// grabber implements platform-specific region capture.
type grabber interface {
	// grab returns the encoded image for the region, or (nil, nil) when
	// the region is not visible on any display.
	grab(r Region) ([]byte, error)
	// available reports whether the platform capture tool can run.
	available() error
	cleanup()
}

// ScreenSource captures a screen region. Frames perceptually similar to
// the previous one are suppressed for a short window, and oversized frames
// are downscaled before recognition.
type ScreenSource struct {
	grabber  grabber
	tempDir  string
	started  bool
	lastHash *goimagehash.ImageHash
	lastEmit time.Time
}

// NewScreenSource creates a screen frame source for the current platform.
func NewScreenSource() *ScreenSource {
	tmpDir, err := os.MkdirTemp("", "screentranslate-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		tmpDir = os.TempDir()
	}
	return &ScreenSource{grabber: newGrabber(tmpDir), tempDir: tmpDir}
}

// Start verifies the platform capture tool is present.
func (s *ScreenSource) Start() error {
	if s.started {
		return nil
	}
	if err := s.grabber.available(); err != nil {
		return apperr.Wrap(err, apperr.CodeEnvironment, "screen capture unavailable")
	}
	s.started = true
	return nil
}

// Capture grabs the region and returns a frame, or (nil, nil) when the
// region is invalid, not visible, or unchanged since the last frame.
func (s *ScreenSource) Capture(ctx context.Context, region Region) (*Frame, error) {
	if !region.Valid() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.grabber.grab(region)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeCapture, "screen grab failed for %s", region)
	}
	if data == nil {
		return nil, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeCapture, "decode captured frame")
	}

	now := time.Now()
	if s.unchanged(img, now) {
		return nil, nil
	}

	encoded, err := encodeFrame(img)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeCapture, "encode captured frame")
	}
	return &Frame{Kind: KindImage, Image: encoded, Region: region, Captured: now}, nil
}

// Stop releases the temp directory. Safe to call repeatedly.
func (s *ScreenSource) Stop() {
	s.grabber.cleanup()
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
		s.tempDir = ""
	}
	s.started = false
	s.lastHash = nil
}

// unchanged reports whether the frame is perceptually similar to the last
// emitted one. Suppression lapses after hashSkipWindow so static regions
// still reach the recognizer periodically.
func (s *ScreenSource) unchanged(img image.Image, now time.Time) bool {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}

	if s.lastHash != nil && now.Sub(s.lastEmit) < hashSkipWindow {
		if dist, err := s.lastHash.Distance(hash); err == nil && dist <= maxHashDistance {
			slog.Debug("skipping similar frame", "distance", dist)
			return true
		}
	}

	s.lastHash = hash
	s.lastEmit = now
	return false
}

// encodeFrame downscales oversized frames and re-encodes as PNG.
func encodeFrame(img image.Image) ([]byte, error) {
	if img.Bounds().Dx() > maxFrameWidth {
		img = resize.Resize(maxFrameWidth, 0, img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
