package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Kind labels one engine event.
type Kind string

const (
	KindLog                  Kind = "log"
	KindStatus               Kind = "status"
	KindTextDetected         Kind = "text-detected"
	KindTranslationRequested Kind = "translation-requested"
	KindTranslationReceived  Kind = "translation-received"
	KindTranslationReady     Kind = "translation-ready"
	KindLanguageDetected     Kind = "language-detected"
	KindError                Kind = "error"
)

// Event is the envelope every engine observation travels in. Which
// fields are set depends on the kind: log and error events carry their
// message in Text, translation events carry the text plus the language
// pair, status events carry the new state.
type Event struct {
	ID     string            `json:"id"`
	Kind   Kind              `json:"kind"`
	Time   time.Time         `json:"time"`
	Text   string            `json:"text,omitempty"`
	Source string            `json:"source,omitempty"`
	Target string            `json:"target,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// stream fans events out to subscribers without ever blocking the run
// loop: a subscriber that stops draining loses events, not the engine.
type stream struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

func newStream() *stream {
	return &stream{subs: make(map[string]chan Event)}
}

// subscribe registers a new observer channel. The returned cancel closes
// and detaches it; other subscribers are unaffected.
func (s *stream) subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = eventBuffer
	}
	ch := make(chan Event, buf)
	id := xid.New().String()

	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
		s.mu.Unlock()
	}
}

func (s *stream) publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("event dropped, subscriber buffer full", "subscriber", id, "kind", ev.Kind)
		}
	}
}

func (s *stream) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// HistoryEntry is one completed translation.
type HistoryEntry struct {
	ID             string    `json:"id"`
	Time           time.Time `json:"time"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
}

// history keeps the most recent completed translations, newest last.
type history struct {
	mu      sync.RWMutex
	entries []HistoryEntry
	maxSize int
}

func newHistory(maxSize int) *history {
	return &history{entries: make([]HistoryEntry, 0, maxSize), maxSize: maxSize}
}

func (h *history) add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
}

// recent returns up to limit entries, oldest first. limit <= 0 means all
// retained entries.
func (h *history) recent(limit int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]HistoryEntry, limit)
	copy(out, h.entries[len(h.entries)-limit:])
	return out
}
