// Package translate calls an external OpenAI-compatible chat-completions
// API to translate recognized text.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/trace"
)

const (
	// RequestTimeout bounds one translation call. It also bounds engine
	// stop latency, since an in-flight call is allowed to finish.
	RequestTimeout = 15 * time.Second

	// maxErrorBody limits how much of a failed response is kept for
	// diagnostics.
	maxErrorBody = 2048
)

// defaultSystemPrompt stands in when no system prompt is configured.
const defaultSystemPrompt = "You are a translator. Translate the text to Chinese."

// Request describes one translation call.
type Request struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
}

// Result carries the translated text.
type Result struct {
	Text string
}

// Config holds the API settings for a client.
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	SystemPrompt   string
	TargetLanguage string
}

// Client sends single-attempt translation requests. Retry policy belongs
// to the caller's next poll cycle, not here.
type Client struct {
	cfg    Config
	prefix string
	httpc  *http.Client
	logf   func(msg string)
}

// New creates a client bound to the given API settings. logf receives
// human-readable progress lines for observers; nil disables them.
func New(cfg Config, logf func(msg string)) *Client {
	if logf == nil {
		logf = func(string) {}
	}
	return &Client{
		cfg:    cfg,
		prefix: instructionPrefix(cfg.TargetLanguage),
		httpc:  &http.Client{Timeout: RequestTimeout},
		logf:   logf,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Translate sends text to the API and returns the trimmed translation.
// Any network, HTTP-status, or response-shape failure is returned as a
// translation error; no retry is performed.
func (c *Client) Translate(ctx context.Context, text string) (*Result, error) {
	c.logf(fmt.Sprintf("translating: %s", preview(text, 50)))

	// The request body carries only the user message; the configured
	// system prompt is surfaced to observers and nothing more.
	prompt := c.cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	c.logf(fmt.Sprintf("using system prompt: %s", preview(prompt, 50)))

	payload := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: c.prefix + text}},
		Temperature: 0.2,
		Stream:      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTranslation, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeTranslation, "build request for %s", c.cfg.Endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	trace.Inject(ctx, req.Header)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else {
		c.logf("warning: no API key configured, sending unauthenticated request")
	}

	c.logf(fmt.Sprintf("requesting model %s at %s", c.cfg.Model, c.cfg.Endpoint))
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTranslation, "translation request failed")
	}
	defer resp.Body.Close()

	c.logf(fmt.Sprintf("API responded with status %d", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperr.Newf(apperr.CodeTranslation, "translation API returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeTranslation, "decode response")
	}
	if len(parsed.Choices) == 0 {
		return nil, apperr.New(apperr.CodeTranslation, "response contained no choices")
	}

	translated := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.logf(fmt.Sprintf("received: %s", preview(translated, 50)))
	return &Result{Text: translated}, nil
}

// instructionPrefix builds the fixed prompt that precedes the text in the
// single user message.
func instructionPrefix(target string) string {
	name := LanguageName(target)
	return "You are a professional native " + name + " translator. Translate the text below fluently into " + name + ".\n" +
		"## Rules\n" +
		"1. Output only the translation itself. Never explain it or add anything around it (no \"Here is the translation:\" or similar).\n" +
		"2. The translation must keep exactly the same paragraph count and formatting as the source.\n" +
		"3. If the text contains HTML tags, place each tag where it reads naturally in the translation.\n" +
		"4. Keep content that needs no translating, such as proper nouns and code, as it is.\n" +
		"The text to translate follows:\n"
}

// LanguageName maps a language code to the name used in prompts. Unknown
// codes pass through unchanged.
func LanguageName(code string) string {
	switch strings.ToLower(code) {
	case "zh":
		return "Simplified Chinese"
	case "en":
		return "English"
	case "ja":
		return "Japanese"
	case "ko":
		return "Korean"
	default:
		return code
	}
}

// preview shortens text for log lines.
func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
