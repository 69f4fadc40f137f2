// Package capture provides the frame sources feeding the recognition
// pipeline: a screen region grabber and a loopback audio device reader.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Kind tags a frame with the input it carries.
type Kind int

const (
	KindImage Kind = iota
	KindAudio
)

// Region is a rectangular screen area in pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the region describes a capturable area.
func (r Region) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.Width >= 1 && r.Height >= 1
}

func (r Region) String() string {
	return fmt.Sprintf("(%d, %d) %dx%d", r.X, r.Y, r.Width, r.Height)
}

// Frame is one captured unit of raw input: an encoded image for screen
// sources or mono 16-bit little-endian PCM for audio sources. The engine
// owns a frame for one cycle; recognizers borrow it and must not mutate it.
type Frame struct {
	Kind     Kind
	Image    []byte
	PCM      []byte
	Region   Region
	Device   string
	Captured time.Time
}

// Source produces frames for the engine's poll loop. Start is idempotent.
// Stop is safe to call repeatedly and without a prior Start. Capture
// returns (nil, nil) when no frame is available this cycle.
type Source interface {
	Start() error
	Capture(ctx context.Context, region Region) (*Frame, error)
	Stop()
}
