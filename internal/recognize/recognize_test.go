package recognize

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/mucsbr/Screen-Translate/internal/capture"
)

func TestLanguagesFor(t *testing.T) {
	tests := []struct {
		source string
		want   []string
	}{
		{"ja", []string{"ja", "en"}},
		{"JA", []string{"ja", "en"}},
		{"ko", []string{"ko", "en"}},
		{"en", []string{"en"}},
		{"auto", []string{"ja", "en"}},
		{"fr", []string{"ja", "en"}},
		{"", []string{"ja", "en"}},
	}
	for _, tt := range tests {
		if got := LanguagesFor(tt.source); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("LanguagesFor(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

// pollSpans drives Recognize with empty audio frames until a result
// arrives from the recognizer's background work.
func pollSpans(t *testing.T, r Recognizer) []Span {
	t.Helper()
	frame := &capture.Frame{Kind: capture.KindAudio}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		spans, err := r.Recognize(context.Background(), frame)
		if err != nil {
			t.Fatalf("Recognize: %v", err)
		}
		if len(spans) > 0 {
			return spans
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no spans before deadline")
	return nil
}
