package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/trace"
)

func successBody(content string) string {
	quoted, _ := json.Marshal(content)
	return `{"choices":[{"message":{"content":` + string(quoted) + `}}]}`
}

func TestTranslateRequestShape(t *testing.T) {
	var got chatRequest
	var auth, traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		traceparent = r.Header.Get(trace.TraceparentHeader)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(successBody("你好")))
	}))
	defer srv.Close()

	tc := trace.New()
	ctx := trace.WithContext(context.Background(), tc)

	c := New(Config{Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-3.5-turbo", SystemPrompt: "Be terse.", TargetLanguage: "zh"}, nil)
	res, err := c.Translate(ctx, "Hello")
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if res.Text != "你好" {
		t.Errorf("Text = %q, want %q", res.Text, "你好")
	}

	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}
	if traceparent != tc.Traceparent() {
		t.Errorf("traceparent = %q, want %q", traceparent, tc.Traceparent())
	}
	if got.Model != "gpt-3.5-turbo" {
		t.Errorf("model = %q, want gpt-3.5-turbo", got.Model)
	}
	if got.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", got.Temperature)
	}
	if got.Stream {
		t.Error("stream should be false")
	}
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %d, want 1: the system prompt must not add a message", len(got.Messages))
	}
	if got.Messages[0].Role != "user" {
		t.Errorf("role = %q, want user", got.Messages[0].Role)
	}
	if !strings.HasSuffix(got.Messages[0].Content, "Hello") {
		t.Errorf("content should end with the source text, got %q", got.Messages[0].Content)
	}
	if !strings.Contains(got.Messages[0].Content, "Simplified Chinese") {
		t.Error("prompt should name the target language")
	}
}

func TestTranslateTrimsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(successBody("\n  translated  \n")))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "m", TargetLanguage: "en"}, nil)
	res, err := c.Translate(context.Background(), "text")
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if res.Text != "translated" {
		t.Errorf("Text = %q, want trimmed %q", res.Text, "translated")
	}
}

func TestTranslateNoKeyWarnsButSends(t *testing.T) {
	var sawAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization") != ""
		w.Write([]byte(successBody("ok")))
	}))
	defer srv.Close()

	var logged []string
	c := New(Config{Endpoint: srv.URL, Model: "m", TargetLanguage: "en"}, func(msg string) {
		logged = append(logged, msg)
	})
	if _, err := c.Translate(context.Background(), "text"); err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if sawAuth {
		t.Error("request should be unauthenticated when no key is configured")
	}

	var warned bool
	for _, msg := range logged {
		if strings.Contains(msg, "no API key") {
			warned = true
		}
	}
	if !warned {
		t.Error("missing key should be logged as a warning")
	}
}

func TestTranslateLogsSystemPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(successBody("ok")))
	}))
	defer srv.Close()

	var logged []string
	c := New(Config{Endpoint: srv.URL, Model: "m", SystemPrompt: "Be terse.", TargetLanguage: "en"}, func(msg string) {
		logged = append(logged, msg)
	})
	if _, err := c.Translate(context.Background(), "text"); err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if !containsLine(logged, "Be terse.") {
		t.Error("configured system prompt should be logged")
	}

	logged = nil
	c = New(Config{Endpoint: srv.URL, Model: "m", TargetLanguage: "en"}, func(msg string) {
		logged = append(logged, msg)
	})
	if _, err := c.Translate(context.Background(), "text"); err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if !containsLine(logged, "You are a translator.") {
		t.Error("default system prompt should be logged when none is configured")
	}
}

func containsLine(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestTranslateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "m", TargetLanguage: "en"}, nil)
	_, err := c.Translate(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if !apperr.IsCode(err, apperr.CodeTranslation) {
		t.Errorf("error code = %v, want translation", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the status code, got %v", err)
	}
}

func TestTranslateMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "m", TargetLanguage: "en"}, nil)
	if _, err := c.Translate(context.Background(), "text"); !apperr.IsCode(err, apperr.CodeTranslation) {
		t.Errorf("malformed body should be a translation error, got %v", err)
	}
}

func TestTranslateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "m", TargetLanguage: "en"}, nil)
	if _, err := c.Translate(context.Background(), "text"); !apperr.IsCode(err, apperr.CodeTranslation) {
		t.Errorf("empty choices should be a translation error, got %v", err)
	}
}

func TestTranslateConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed before use

	c := New(Config{Endpoint: srv.URL, Model: "m", TargetLanguage: "en"}, nil)
	if _, err := c.Translate(context.Background(), "text"); !apperr.IsCode(err, apperr.CodeTranslation) {
		t.Errorf("network failure should be a translation error, got %v", err)
	}
}

func TestLanguageName(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"zh", "Simplified Chinese"},
		{"en", "English"},
		{"ja", "Japanese"},
		{"ko", "Korean"},
		{"KO", "Korean"},
		{"fr", "fr"},
	}
	for _, tc := range cases {
		if got := LanguageName(tc.code); got != tc.want {
			t.Errorf("LanguageName(%q) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := preview("short", 50); got != "short" {
		t.Errorf("preview = %q, want unchanged", got)
	}
	long := strings.Repeat("あ", 60)
	got := preview(long, 50)
	if len([]rune(got)) != 53 {
		t.Errorf("preview should cut at 50 runes plus ellipsis, got %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("preview should end with ellipsis, got %q", got)
	}
}
