// Package recognize converts captured frames into text spans, using an
// optical model for image frames or one of two speech backends for audio.
package recognize

import (
	"context"
	"strings"

	"github.com/mucsbr/Screen-Translate/internal/capture"
)

// Span is one recognized text fragment with its confidence in [0,1].
type Span struct {
	Text       string
	Confidence float64
}

// Recognizer turns one frame into zero or more spans. Span order is
// recognizer-defined: reading order for optical recognition,
// chronological for speech. Start failures are environment errors; Stop
// releases model resources and tolerates never having been started.
type Recognizer interface {
	Start() error
	Recognize(ctx context.Context, frame *capture.Frame) ([]Span, error)
	Stop() error
}

// LanguagesFor resolves the recognition language set for a configured
// source language. Unknown codes and "auto" fall back to Japanese plus
// English.
func LanguagesFor(source string) []string {
	switch strings.ToLower(source) {
	case "ja":
		return []string{"ja", "en"}
	case "ko":
		return []string{"ko", "en"}
	case "en":
		return []string{"en"}
	default:
		return []string{"ja", "en"}
	}
}
