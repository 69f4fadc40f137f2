package recognize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/capture"
	"github.com/mucsbr/Screen-Translate/internal/syncx"
)

// Stream recognizes speech incrementally over a vosk-server WebSocket
// session. Recognize pushes each audio frame into the session and returns
// whatever the server has concluded since the last call; a dedicated read
// pump goroutine is the sole writer to the result fields.
type Stream struct {
	url        string
	sampleRate int

	mu           sync.Mutex
	running      bool
	conn         *websocket.Conn
	cancel       context.CancelFunc
	done         chan struct{}
	lastPartial  string
	lastFinal    string
	finalPending bool
	lastReturned string
}

// NewStream creates a streaming speech recognizer against a vosk-protocol
// server URL such as ws://localhost:2700.
func NewStream(url string, sampleRate int) *Stream {
	if sampleRate <= 0 {
		sampleRate = capture.DefaultSampleRate
	}
	return &Stream{url: url, sampleRate: sampleRate}
}

// Start dials the server, sends the session config, and launches the read
// pump. Idempotent while running.
func (s *Stream) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeEnvironment,
			"cannot reach the speech server at %s: run one (e.g. docker run -p 2700:2700 alphacep/kaldi-en)", s.url)
	}

	cfg := fmt.Sprintf(`{"config": {"sample_rate": %d}}`, s.sampleRate)
	if err := conn.Write(dialCtx, websocket.MessageText, []byte(cfg)); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "config write failed")
		return apperr.Wrap(err, apperr.CodeEnvironment, "speech server rejected the session config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.lastPartial = ""
	s.lastFinal = ""
	s.finalPending = false
	s.lastReturned = ""
	s.running = true
	s.mu.Unlock()

	go s.readPump(ctx, conn, done)
	slog.Info("started streaming recognizer", "url", s.url, "sample_rate", s.sampleRate)
	return nil
}

// readPump applies server messages until the socket closes or the session
// is cancelled.
func (s *Stream) readPump(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			slog.Debug("speech session read ended", "url", s.url, "error", err)
			return
		}
		s.apply(data)
	}
}

// serverResult is one vosk-server message: intermediate hypotheses carry
// partial, utterance-final results carry text.
type serverResult struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
}

func (s *Stream) apply(data []byte) {
	var msg serverResult
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("unparseable speech server message", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Text != nil {
		s.lastFinal = strings.TrimSpace(*msg.Text)
		s.finalPending = true
		s.lastPartial = ""
		return
	}
	if msg.Partial != nil {
		s.lastPartial = strings.TrimSpace(*msg.Partial)
	}
}

// Recognize writes the frame's PCM to the session and returns at most one
// span of newly concluded speech.
func (s *Stream) Recognize(ctx context.Context, frame *capture.Frame) ([]Span, error) {
	if frame == nil || frame.Kind != capture.KindAudio {
		return nil, apperr.New(apperr.CodeRecognition, "streaming recognizer needs audio frames")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn, running := s.conn, s.running
	s.mu.Unlock()
	if !running || conn == nil {
		return nil, apperr.New(apperr.CodeRecognition, "streaming recognizer is not started")
	}

	if len(frame.PCM) > 0 {
		if err := conn.Write(ctx, websocket.MessageBinary, frame.PCM); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeRecognition, "cannot push audio to the speech server")
		}
	}

	return s.selectResult(), nil
}

// selectResult picks what to surface. An utterance-final result wins
// whenever one has arrived since the last call; otherwise a partial
// hypothesis is used only when it reads as a finished sentence, so
// half-formed text does not reach the translator. Either way the same
// text is never surfaced twice in a row.
func (s *Stream) selectResult() []Span {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalPending {
		s.finalPending = false
		if s.lastFinal != "" && s.lastFinal != s.lastReturned {
			s.lastReturned = s.lastFinal
			return []Span{{Text: s.lastFinal, Confidence: finalConfidence}}
		}
		return nil
	}

	if s.lastPartial != "" && s.lastPartial != s.lastReturned && endsSentence(s.lastPartial) {
		s.lastReturned = s.lastPartial
		return []Span{{Text: s.lastPartial, Confidence: partialConfidence}}
	}
	return nil
}

// endsSentence reports whether text ends in an ASCII or CJK sentence
// terminator.
func endsSentence(text string) bool {
	r, _ := utf8.DecodeLastRuneInString(text)
	switch r {
	case '.', '!', '?', '。', '！', '？', ' ':
		return true
	}
	return false
}

// Stop tells the server the stream is over, closes the socket, and gives
// the read pump a bounded window to exit. Safe without a prior Start.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	conn := s.conn
	cancel := s.cancel
	done := s.done
	s.conn = nil
	s.cancel = nil
	s.done = nil
	s.lastPartial = ""
	s.lastFinal = ""
	s.finalPending = false
	s.lastReturned = ""
	s.mu.Unlock()

	if conn != nil {
		eofCtx, eofCancel := context.WithTimeout(context.Background(), time.Second)
		_ = conn.Write(eofCtx, websocket.MessageText, []byte(`{"eof" : 1}`))
		eofCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "session over")
	}
	if cancel != nil {
		cancel()
	}
	if done != nil && !syncx.WaitTimeout(done, stopJoinTimeout) {
		slog.Warn("speech read pump did not exit in time", "url", s.url)
	}
	return nil
}
