package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeTranslation, "request failed")
	want := "[translation] request failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(errors.New("connection refused"), CodeTranslation, "request failed")
	if got := wrapped.Error(); got != "[translation] request failed caused by: connection refused" {
		t.Errorf("wrapped Error() = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("no such device")
	err := Wrap(cause, CodeEnvironment, "audio device not found")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeCapture, "region not visible")
	if !IsCode(err, CodeCapture) {
		t.Error("IsCode(CodeCapture) = false, want true")
	}
	if IsCode(err, CodeTranslation) {
		t.Error("IsCode(CodeTranslation) = true, want false")
	}

	// Code should be found through wrapping layers.
	outer := fmt.Errorf("cycle failed: %w", err)
	if !IsCode(outer, CodeCapture) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(errors.New("plain"), CodeCapture) {
		t.Error("IsCode on plain error = true, want false")
	}
}

func TestIsEnvironment(t *testing.T) {
	if !IsEnvironment(New(CodeEnvironment, "model missing")) {
		t.Error("IsEnvironment = false, want true")
	}
	if IsEnvironment(New(CodeTranslation, "bad response")) {
		t.Error("IsEnvironment on translation error = true, want false")
	}
}

func TestFromError(t *testing.T) {
	app := New(CodeRecognition, "inference failed")
	got := FromError(fmt.Errorf("wrapped: %w", app))
	if got != app {
		t.Errorf("FromError should return the embedded AppError, got %v", got)
	}

	plain := FromError(errors.New("boom"))
	if plain.Code != CodeUnknown {
		t.Errorf("FromError(plain).Code = %s, want %s", plain.Code, CodeUnknown)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeConfig, http.StatusBadRequest},
		{CodeEnvironment, http.StatusServiceUnavailable},
		{CodeTranslation, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
		{Code("bogus"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := New(tc.code, "x").HTTPStatus(); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
