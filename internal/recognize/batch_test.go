package recognize

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/capture"
)

func TestWriteWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := writeWAVHeader(&buf, 16000, 4); err != nil {
		t.Fatalf("writeWAVHeader: %v", err)
	}
	h := buf.Bytes()
	if len(h) != 44 {
		t.Fatalf("header length = %d, want 44", len(h))
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[36:40]) != "data" {
		t.Errorf("chunk markers = %q %q %q", h[0:4], h[8:12], h[36:40])
	}
	if got := binary.LittleEndian.Uint32(h[4:8]); got != 40 {
		t.Errorf("riff size = %d, want 40", got)
	}
	if got := binary.LittleEndian.Uint16(h[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(h[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(h[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(h[40:44]); got != 4 {
		t.Errorf("data size = %d, want 4", got)
	}
}

func TestBatchTranscription(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if got := r.FormValue("response_format"); got != "json" {
			t.Errorf("response_format = %q, want json", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "audio.wav" {
			t.Errorf("filename = %q, want audio.wav", header.Filename)
		}
		wav, _ := io.ReadAll(file)
		if len(wav) < 44 || string(wav[0:4]) != "RIFF" {
			t.Error("payload does not start with a WAV header")
		} else if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
			t.Errorf("wav sample rate = %d, want 16000", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": " turn left here. "}`))
	}))
	defer ts.Close()

	b := NewBatch(ts.URL+"/inference", 16000)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	frame := &capture.Frame{Kind: capture.KindAudio, PCM: make([]byte, 960)}
	if _, err := b.Recognize(context.Background(), frame); err != nil {
		t.Fatalf("Recognize: %v", err)
	}

	got := pollSpans(t, b)
	if got[0].Text != "turn left here." || got[0].Confidence != batchConfidence {
		t.Fatalf("spans = %+v, want the transcription", got)
	}

	spans, err := b.Recognize(context.Background(), &capture.Frame{Kind: capture.KindAudio})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if spans != nil {
		t.Errorf("result surfaced twice: %+v", spans)
	}
}

func TestBatchResultExpiry(t *testing.T) {
	base := time.Now()
	b := NewBatch("http://localhost:1/inference", 16000)
	b.now = func() time.Time { return base }

	b.text, b.arrived = "fresh enough.", base.Add(-batchResultTTL+time.Millisecond)
	if spans := b.takeResult(); len(spans) != 1 || spans[0].Text != "fresh enough." {
		t.Fatalf("fresh result withheld: %+v", spans)
	}

	b.text, b.arrived = "too old.", base.Add(-batchResultTTL)
	if spans := b.takeResult(); spans != nil {
		t.Errorf("expired result surfaced: %+v", spans)
	}
	if b.text != "" {
		t.Error("expired result must still be cleared")
	}
}

func TestBatchDropsWhenBusy(t *testing.T) {
	var requests atomic.Int32
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		requests.Add(1)
		started <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"text": "ok."}`))
	}))
	defer ts.Close()
	defer unblock()

	b := NewBatch(ts.URL, 16000)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	pcm := &capture.Frame{Kind: capture.KindAudio, PCM: make([]byte, 320)}
	ctx := context.Background()

	// first frame occupies the worker
	if _, err := b.Recognize(ctx, pcm); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reached the server")
	}

	// second frame queues, third is dropped
	if _, err := b.Recognize(ctx, pcm); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if _, err := b.Recognize(ctx, pcm); err != nil {
		t.Fatalf("Recognize: %v", err)
	}

	unblock()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && requests.Load() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d transcriptions, want 2 with the third frame dropped", got)
	}
}

func TestTranscribeServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	b := NewBatch(ts.URL, 16000)
	_, err := b.transcribe(context.Background(), make([]byte, 32))
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("transcribe error = %v, want a 500 mention", err)
	}
}

func TestBatchStartServerDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	b := NewBatch(url, 16000)
	err := b.Start()
	if err == nil {
		t.Fatal("Start against a closed server must fail")
	}
	if !apperr.IsEnvironment(err) {
		t.Errorf("error = %v, want an environment error", err)
	}
}

func TestBatchRecognizeBeforeStart(t *testing.T) {
	b := NewBatch("http://localhost:1", 16000)
	frame := &capture.Frame{Kind: capture.KindAudio, PCM: []byte{0, 0}}
	if _, err := b.Recognize(context.Background(), frame); !apperr.IsCode(err, apperr.CodeRecognition) {
		t.Errorf("error = %v, want a recognition error", err)
	}
}

func TestBatchStopWithoutStart(t *testing.T) {
	b := NewBatch("http://localhost:1", 16000)
	if err := b.Stop(); err != nil {
		t.Errorf("Stop without Start: %v", err)
	}
}
