package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/capture"
	"github.com/mucsbr/Screen-Translate/internal/syncx"
)

// Batch recognizes speech by posting whole utterances to a whisper-server
// inference endpoint. Transcription runs on a single background worker so
// a slow server never stalls the capture loop; Recognize drops the frame
// when the worker is behind and returns the most recent unread result.
type Batch struct {
	url        string
	sampleRate int
	httpc      *http.Client
	jobs       chan []byte
	wg         sync.WaitGroup

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	text    string
	arrived time.Time

	now func() time.Time
}

// NewBatch creates a batched speech recognizer against a whisper-server
// inference URL such as http://localhost:8080/inference.
func NewBatch(url string, sampleRate int) *Batch {
	if sampleRate <= 0 {
		sampleRate = capture.DefaultSampleRate
	}
	return &Batch{
		url:        url,
		sampleRate: sampleRate,
		httpc:      &http.Client{Timeout: transcribeTimeout},
		jobs:       make(chan []byte, 1),
		now:        time.Now,
	}
}

// Start probes the server and launches the transcription worker.
// Idempotent while running.
func (b *Batch) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.probe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancel = cancel
	b.text = ""
	b.arrived = time.Time{}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.worker(ctx)
	slog.Info("started batch recognizer", "url", b.url, "sample_rate", b.sampleRate)
	return nil
}

// probe confirms something answers at the inference URL. Any HTTP
// response counts; only a transport error means the server is absent.
func (b *Batch) probe() error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeConfig, "invalid transcription server URL")
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeEnvironment,
			"cannot reach the transcription server at %s: start a whisper server (e.g. whisper-server -m models/ggml-base.bin --port 8080)", b.url)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

func (b *Batch) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-b.jobs:
			text, err := b.transcribe(ctx, pcm)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("transcription failed", "url", b.url, "error", err)
				}
				continue
			}
			if text == "" {
				continue
			}
			b.mu.Lock()
			b.text = text
			b.arrived = b.now()
			b.mu.Unlock()
		}
	}
}

// transcribe wraps the PCM as WAV and posts it as a multipart form.
func (b *Batch) transcribe(ctx context.Context, pcm []byte) (string, error) {
	var wav bytes.Buffer
	if err := writeWAVHeader(&wav, b.sampleRate, len(pcm)); err != nil {
		return "", fmt.Errorf("write WAV header: %w", err)
	}
	wav.Write(pcm)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav.Bytes()); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("transcription server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Recognize submits the frame's PCM for transcription and returns the
// latest unread result, if it is still fresh. A frame arriving while the
// worker is saturated is dropped.
func (b *Batch) Recognize(ctx context.Context, frame *capture.Frame) ([]Span, error) {
	if frame == nil || frame.Kind != capture.KindAudio {
		return nil, apperr.New(apperr.CodeRecognition, "batch recognizer needs audio frames")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if !running {
		return nil, apperr.New(apperr.CodeRecognition, "batch recognizer is not started")
	}

	if len(frame.PCM) > 0 {
		select {
		case b.jobs <- frame.PCM:
		default:
			slog.Debug("transcription worker busy, dropping audio", "bytes", len(frame.PCM))
		}
	}

	return b.takeResult(), nil
}

// takeResult hands out the stored transcription at most once, and not at
// all once it has aged past batchResultTTL.
func (b *Batch) takeResult() []Span {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.text == "" {
		return nil
	}
	text := b.text
	b.text = ""
	if b.now().Sub(b.arrived) >= batchResultTTL {
		return nil
	}
	return []Span{{Text: text, Confidence: batchConfidence}}
}

// Stop cancels the worker, aborting any in-flight request, and waits a
// bounded window for it to exit. Safe without a prior Start.
func (b *Batch) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	b.cancel = nil
	b.text = ""
	b.arrived = time.Time{}
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	if !syncx.WaitTimeout(done, stopJoinTimeout) {
		slog.Warn("transcription worker did not exit in time", "url", b.url)
	}

	for {
		select {
		case <-b.jobs:
		default:
			return nil
		}
	}
}
