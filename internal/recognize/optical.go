package recognize

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/capture"
)

// tessLanguages maps language codes to tesseract model names.
var tessLanguages = map[string]string{
	"ja": "jpn",
	"ko": "kor",
	"en": "eng",
	"zh": "chi_sim",
}

// Optical recognizes text in image frames with tesseract, one span per
// detected text line in reading order.
type Optical struct {
	languages []string
	dataPath  string

	mu     sync.Mutex
	client *gosseract.Client
}

// NewOptical creates an optical recognizer for the given language codes.
// dataPath optionally overrides the tessdata directory.
func NewOptical(languages []string, dataPath string) *Optical {
	return &Optical{languages: languages, dataPath: dataPath}
}

// Languages returns the configured language codes.
func (o *Optical) Languages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.languages...)
}

// SetLanguages replaces the language set. The set is fixed once the
// model is initialized; changing it then fails fast.
func (o *Optical) SetLanguages(languages []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return apperr.New(apperr.CodeRecognition, "language list cannot change after the model is initialized")
	}
	o.languages = languages
	return nil
}

// Start loads the tesseract models and runs a probe recognition so that
// missing language data surfaces here instead of mid-cycle. Idempotent.
func (o *Optical) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client != nil {
		return nil
	}
	if len(o.languages) == 0 {
		return apperr.New(apperr.CodeEnvironment, "no recognition languages configured")
	}

	client := gosseract.NewClient()
	if o.dataPath != "" {
		if err := client.SetTessdataPrefix(o.dataPath); err != nil {
			client.Close()
			return apperr.Wrapf(err, apperr.CodeEnvironment, "cannot use tessdata directory %q", o.dataPath)
		}
	}
	if err := client.SetLanguage(o.tessCodes()...); err != nil {
		client.Close()
		return apperr.Wrapf(err, apperr.CodeEnvironment, "cannot select recognition languages %v", o.languages)
	}
	if err := client.SetImageFromBytes(probePNG()); err != nil {
		client.Close()
		return apperr.Wrap(err, apperr.CodeEnvironment, "optical model probe failed")
	}
	if _, err := client.Text(); err != nil {
		client.Close()
		return apperr.Wrapf(err, apperr.CodeEnvironment,
			"tesseract could not load languages %v: install the language data packages (e.g. tesseract-ocr-jpn)", o.languages)
	}

	o.client = client
	return nil
}

// Recognize runs line-level detection over an image frame.
func (o *Optical) Recognize(ctx context.Context, frame *capture.Frame) ([]Span, error) {
	if frame == nil || frame.Kind != capture.KindImage {
		return nil, apperr.New(apperr.CodeRecognition, "optical recognizer needs an image frame")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		return nil, apperr.New(apperr.CodeRecognition, "recognizer not started")
	}

	if err := o.client.SetImageFromBytes(frame.Image); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRecognition, "cannot load frame into tesseract")
	}
	boxes, err := o.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRecognition, "text detection failed")
	}

	spans := make([]Span, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		spans = append(spans, Span{Text: text, Confidence: clampConfidence(box.Confidence / 100)})
	}
	return spans, nil
}

// Stop releases the tesseract client. Safe without a prior Start.
func (o *Optical) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client == nil {
		return nil
	}
	err := o.client.Close()
	o.client = nil
	return err
}

// tessCodes maps the configured codes to tesseract model names, passing
// unknown codes through as-is.
func (o *Optical) tessCodes() []string {
	codes := make([]string, 0, len(o.languages))
	for _, lang := range o.languages {
		if code, ok := tessLanguages[strings.ToLower(lang)]; ok {
			codes = append(codes, code)
		} else {
			codes = append(codes, lang)
		}
	}
	return codes
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// probePNG renders a small blank frame for the start-time model probe.
func probePNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
