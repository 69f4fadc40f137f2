package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/capture"
	"github.com/mucsbr/Screen-Translate/internal/dedupe"
	"github.com/mucsbr/Screen-Translate/internal/recognize"
	"github.com/mucsbr/Screen-Translate/internal/syncx"
	"github.com/mucsbr/Screen-Translate/internal/translate"
)

// State is the engine lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Mode selects which source/recognizer pair a run drives.
type Mode string

const (
	// ModeScreen captures a screen region and recognizes it optically.
	ModeScreen Mode = "screen"
	// ModeAudioStream captures loopback audio into a streaming speech
	// session.
	ModeAudioStream Mode = "audio-stream"
	// ModeAudioBatch captures loopback audio and transcribes it in
	// fixed-duration batches.
	ModeAudioBatch Mode = "audio-batch"
)

// Config is the immutable snapshot a run starts with. Edits made while a
// run is active take effect at the next Start.
type Config struct {
	Mode           Mode
	SourceRegion   capture.Region
	Interval       time.Duration
	SourceLanguage string
	TargetLanguage string

	APIEndpoint  string
	APIKey       string
	Model        string
	SystemPrompt string

	// TessdataPath optionally overrides the optical model directory.
	TessdataPath string
	// SpeechServerURL is the streaming speech endpoint for audio-stream
	// runs, TranscribeServerURL the whisper inference endpoint for
	// audio-batch runs.
	SpeechServerURL     string
	TranscribeServerURL string
	// AudioDeviceIndex picks an explicit input device;
	// capture.AutoDevice scans for a loopback device instead, matching
	// AudioDeviceKeywords when set.
	AudioDeviceIndex    int
	AudioDeviceKeywords []string
}

// Translator is the slice of the translation client the engine needs.
type Translator interface {
	Translate(ctx context.Context, text string) (*translate.Result, error)
}

// Engine owns one frame source, one recognizer, the dedup cache and a
// translation client, and runs the poll loop on a dedicated goroutine.
// The cache outlives individual runs so a stop/start pair does not
// re-translate text that is still on screen.
type Engine struct {
	events  *stream
	history *history
	cache   *dedupe.Cache

	build func(cfg Config, logf func(string)) (capture.Source, recognize.Recognizer, Translator, error)

	mu         sync.Mutex
	state      State
	source     capture.Source
	recognizer recognize.Recognizer
	cancel     context.CancelFunc
	done       chan struct{}
	startedAt  time.Time
}

// New creates an idle engine.
func New() *Engine {
	return &Engine{
		events:  newStream(),
		history: newHistory(historySize),
		cache:   dedupe.New(translationTTL),
		build:   buildPipeline,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StartedAt returns when the current run began, zero when idle.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

// Subscribe attaches an observer to the event stream. The returned
// cancel detaches it without affecting other subscribers.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.subscribe(eventBuffer)
}

// Subscribers returns the number of attached observers.
func (e *Engine) Subscribers() int {
	return e.events.count()
}

// History returns up to limit most recent completed translations, oldest
// first.
func (e *Engine) History(limit int) []HistoryEntry {
	return e.history.recent(limit)
}

// Start builds the configured pipeline and launches the run loop. It is
// a no-op when already running. A failure to start the source or
// recognizer aborts the attempt, stops whatever was already started, and
// leaves the engine idle.
func (e *Engine) Start(cfg Config) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil
	}
	// Claim the run slot now so a concurrent Start becomes a no-op.
	e.state = StateRunning
	e.mu.Unlock()

	if cfg.Mode == "" {
		cfg.Mode = ModeScreen
	}
	cfg.Interval = clampInterval(cfg.Interval)

	source, recognizer, translator, err := e.build(cfg, func(msg string) {
		e.emitLog("translator: " + msg)
	})
	if err != nil {
		e.abortStart()
		return err
	}

	if err := source.Start(); err != nil {
		e.abortStart()
		return err
	}
	if err := recognizer.Start(); err != nil {
		source.Stop()
		e.abortStart()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.source = source
	e.recognizer = recognizer
	e.cancel = cancel
	e.done = done
	e.startedAt = time.Now()
	e.mu.Unlock()

	go e.run(ctx, cfg, source, recognizer, translator, done)

	e.publish(Event{Kind: KindStatus, Text: string(StateRunning)})
	slog.Info("engine started", "mode", cfg.Mode, "interval", cfg.Interval,
		"source_language", cfg.SourceLanguage, "target_language", cfg.TargetLanguage)
	return nil
}

func (e *Engine) abortStart() {
	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()
}

// Stop cancels the loop, stops the pipeline, and waits a bounded window
// for the loop goroutine to exit. The engine is idle afterwards no
// matter what. No-op when already idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	source := e.source
	recognizer := e.recognizer
	e.cancel = nil
	e.done = nil
	e.source = nil
	e.recognizer = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if source != nil {
		source.Stop()
	}
	if recognizer != nil {
		if err := recognizer.Stop(); err != nil {
			slog.Debug("recognizer stop", "error", err)
		}
	}
	if done != nil && !syncx.WaitTimeout(done, stopJoinTimeout) {
		slog.Warn("run loop did not exit in time")
	}

	e.mu.Lock()
	e.state = StateIdle
	e.startedAt = time.Time{}
	e.mu.Unlock()

	e.publish(Event{Kind: KindStatus, Text: string(StateIdle)})
	slog.Info("engine stopped")
}

// run is the poll loop: one cycle, then a fixed cancellable delay,
// until Stop.
func (e *Engine) run(ctx context.Context, cfg Config, source capture.Source, recognizer recognize.Recognizer, translator Translator, done chan struct{}) {
	defer close(done)
	e.emitLog("translation engine started")

	for {
		select {
		case <-ctx.Done():
			e.emitLog("translation engine stopped")
			return
		default:
		}

		e.cycle(ctx, cfg, source, recognizer, translator)

		select {
		case <-ctx.Done():
			e.emitLog("translation engine stopped")
			return
		case <-time.After(cfg.Interval):
		}
	}
}

// cycle runs one capture → recognize → dedupe → translate pass. Nothing
// a cycle does can take the loop down: capture problems skip the cycle,
// recognition problems count as zero spans, translation problems surface
// as error events, and anything unexpected is caught here.
func (e *Engine) cycle(ctx context.Context, cfg Config, source capture.Source, recognizer recognize.Recognizer, translator Translator) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cycle panic", "panic", r)
			e.publish(Event{Kind: KindError, Text: fmt.Sprintf("unexpected failure: %v", r),
				Fields: map[string]string{"code": string(apperr.CodeInternal)}})
		}
	}()

	frame, err := source.Capture(ctx, cfg.SourceRegion)
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("capture failed", "error", err)
			e.emitLog("capture failed: " + err.Error())
		}
		return
	}
	if frame == nil {
		return
	}

	spans, err := recognizer.Recognize(ctx, frame)
	if err != nil {
		if ctx.Err() == nil {
			slog.Debug("recognition failed", "error", err)
		}
		spans = nil
	}

	text := mergeSpans(spans)
	if text == "" {
		return
	}

	if !e.cache.ShouldTranslate(text) {
		e.emitLog(fmt.Sprintf("text unchanged (%s), skipping translation", preview(text, logPreviewLen)))
		return
	}

	e.publish(Event{Kind: KindTextDetected, Text: text})
	e.publish(Event{Kind: KindLanguageDetected, Source: cfg.SourceLanguage})
	e.publish(Event{Kind: KindTranslationRequested, Text: text,
		Source: cfg.SourceLanguage, Target: cfg.TargetLanguage})

	result, err := translator.Translate(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		appErr := apperr.FromError(err)
		slog.Error("translation failed", "code", appErr.Code, "error", err)
		e.publish(Event{Kind: KindError, Text: err.Error(),
			Fields: map[string]string{"code": string(appErr.Code)}})
		return
	}

	e.publish(Event{Kind: KindTranslationReceived, Text: result.Text})
	e.publish(Event{Kind: KindTranslationReady, Text: result.Text,
		Source: cfg.SourceLanguage, Target: cfg.TargetLanguage})
	e.history.add(HistoryEntry{
		ID:             xid.New().String(),
		Time:           time.Now(),
		SourceText:     text,
		TranslatedText: result.Text,
		SourceLanguage: cfg.SourceLanguage,
		TargetLanguage: cfg.TargetLanguage,
	})
	slog.Info("translated", "source_chars", len(text), "translated_chars", len(result.Text))
}

// buildPipeline assembles the source/recognizer pair for the mode plus a
// translation client.
func buildPipeline(cfg Config, logf func(string)) (capture.Source, recognize.Recognizer, Translator, error) {
	translator := translate.New(translate.Config{
		Endpoint:       cfg.APIEndpoint,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		SystemPrompt:   cfg.SystemPrompt,
		TargetLanguage: cfg.TargetLanguage,
	}, logf)

	switch cfg.Mode {
	case ModeScreen:
		languages := recognize.LanguagesFor(cfg.SourceLanguage)
		return capture.NewScreenSource(), recognize.NewOptical(languages, cfg.TessdataPath), translator, nil
	case ModeAudioStream:
		source := capture.NewAudioSource(capture.AudioConfig{
			DeviceIndex: cfg.AudioDeviceIndex,
			Keywords:    cfg.AudioDeviceKeywords,
			SampleRate:  capture.DefaultSampleRate,
			Mode:        capture.ModeDrain,
		})
		return source, recognize.NewStream(cfg.SpeechServerURL, capture.DefaultSampleRate), translator, nil
	case ModeAudioBatch:
		source := capture.NewAudioSource(capture.AudioConfig{
			DeviceIndex: cfg.AudioDeviceIndex,
			Keywords:    cfg.AudioDeviceKeywords,
			SampleRate:  capture.DefaultSampleRate,
			Mode:        capture.ModeAccumulate,
		})
		return source, recognize.NewBatch(cfg.TranscribeServerURL, capture.DefaultSampleRate), translator, nil
	default:
		return nil, nil, nil, apperr.Newf(apperr.CodeConfig, "unknown engine mode %q", cfg.Mode)
	}
}

func (e *Engine) publish(ev Event) {
	ev.ID = xid.New().String()
	ev.Time = time.Now()
	e.events.publish(ev)
}

// emitLog mirrors a loop observation onto the event stream.
func (e *Engine) emitLog(msg string) {
	e.publish(Event{Kind: KindLog, Text: msg})
}

// mergeSpans joins span texts with single spaces.
func mergeSpans(spans []recognize.Span) string {
	parts := make([]string, 0, len(spans))
	for _, span := range spans {
		if span.Text != "" {
			parts = append(parts, span.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func clampInterval(interval time.Duration) time.Duration {
	if interval == 0 {
		return DefaultInterval
	}
	if interval < MinInterval {
		return MinInterval
	}
	if interval > MaxInterval {
		return MaxInterval
	}
	return interval
}

// preview truncates text for log lines without splitting runes.
func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
