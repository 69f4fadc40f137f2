package recognize

import (
	"bytes"
	"context"
	"image/png"
	"reflect"
	"testing"

	"github.com/otiai10/gosseract/v2"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/capture"
)

func TestTessCodes(t *testing.T) {
	tests := []struct {
		languages []string
		want      []string
	}{
		{[]string{"ja", "en"}, []string{"jpn", "eng"}},
		{[]string{"ko", "en"}, []string{"kor", "eng"}},
		{[]string{"zh"}, []string{"chi_sim"}},
		{[]string{"JA"}, []string{"jpn"}},
		{[]string{"deu"}, []string{"deu"}},
	}
	for _, tt := range tests {
		o := NewOptical(tt.languages, "")
		if got := o.tessCodes(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tessCodes(%v) = %v, want %v", tt.languages, got, tt.want)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tt := range tests {
		if got := clampConfidence(tt.in); got != tt.want {
			t.Errorf("clampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLanguagesReturnsCopy(t *testing.T) {
	o := NewOptical([]string{"ja", "en"}, "")
	got := o.Languages()
	got[0] = "xx"
	if o.Languages()[0] != "ja" {
		t.Error("Languages() must return a copy")
	}
}

func TestSetLanguagesBeforeInit(t *testing.T) {
	o := NewOptical([]string{"ja"}, "")
	if err := o.SetLanguages([]string{"ko", "en"}); err != nil {
		t.Fatalf("SetLanguages: %v", err)
	}
	if got := o.tessCodes(); !reflect.DeepEqual(got, []string{"kor", "eng"}) {
		t.Errorf("tessCodes after SetLanguages = %v, want [kor eng]", got)
	}
}

func TestSetLanguagesAfterInitFails(t *testing.T) {
	o := NewOptical([]string{"ja"}, "")
	o.client = &gosseract.Client{}
	err := o.SetLanguages([]string{"en"})
	if err == nil {
		t.Fatal("SetLanguages after init must fail")
	}
	if !apperr.IsCode(err, apperr.CodeRecognition) {
		t.Errorf("error = %v, want a recognition error", err)
	}
}

func TestOpticalRecognizeBeforeStart(t *testing.T) {
	o := NewOptical([]string{"en"}, "")
	frame := &capture.Frame{Kind: capture.KindImage, Image: []byte("png")}
	if _, err := o.Recognize(context.Background(), frame); !apperr.IsCode(err, apperr.CodeRecognition) {
		t.Errorf("error = %v, want a recognition error", err)
	}
}

func TestOpticalRejectsAudioFrames(t *testing.T) {
	o := NewOptical([]string{"en"}, "")
	frame := &capture.Frame{Kind: capture.KindAudio, PCM: []byte{0, 0}}
	if _, err := o.Recognize(context.Background(), frame); !apperr.IsCode(err, apperr.CodeRecognition) {
		t.Errorf("error = %v, want a recognition error", err)
	}
}

func TestOpticalStopWithoutStart(t *testing.T) {
	o := NewOptical([]string{"en"}, "")
	if err := o.Stop(); err != nil {
		t.Errorf("Stop without Start: %v", err)
	}
}

func TestProbePNG(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(probePNG()))
	if err != nil {
		t.Fatalf("probePNG does not decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 16 || b.Dy() != 16 {
		t.Errorf("probe image is %dx%d, want 16x16", b.Dx(), b.Dy())
	}
}
