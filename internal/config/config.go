// Package config loads, validates and persists the application
// configuration file and reads deployment settings from the environment.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
	"github.com/mucsbr/Screen-Translate/internal/syncx"
)

const (
	configDir  = ".screen_translate"
	configFile = "config.json"

	minIntervalMS = 100
	maxIntervalMS = 5000
	minFontSize   = 8
	maxFontSize   = 96
)

// Region is a screen rectangle in the stored config.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Translation controls languages and the capture cadence.
type Translation struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	IntervalMS     int    `json:"interval_ms"`
}

// API holds the translation endpoint and credentials.
type API struct {
	Endpoint     string `json:"endpoint"`
	APIKey       string `json:"api_key,omitempty"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// OverlayStyle styles the overlay a frontend renders translations into.
type OverlayStyle struct {
	FontFamily      string `json:"font_family"`
	FontSize        int    `json:"font_size"`
	TextColor       string `json:"text_color"`
	BackgroundColor string `json:"background_color"`
}

// Config is the stored configuration document.
type Config struct {
	SourceRegion Region       `json:"source_region"`
	TargetRegion Region       `json:"target_region"`
	Translation  Translation  `json:"translation"`
	API          API          `json:"api"`
	Overlay      OverlayStyle `json:"overlay_style"`
}

// sourceLanguages are the recognizable source languages plus auto.
var sourceLanguages = map[string]bool{"auto": true, "en": true, "ja": true, "ko": true}

// targetLanguage is the only supported translation target.
const targetLanguage = "zh"

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		SourceRegion: Region{X: 0, Y: 0, Width: 640, Height: 200},
		TargetRegion: Region{X: 0, Y: 0, Width: 800, Height: 250},
		Translation: Translation{
			SourceLanguage: "auto",
			TargetLanguage: targetLanguage,
			IntervalMS:     800,
		},
		API: API{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-3.5-turbo",
		},
		Overlay: OverlayStyle{
			FontFamily:      "Arial",
			FontSize:        20,
			TextColor:       "#FFFFFF",
			BackgroundColor: "#33000000",
		},
	}
}

// DefaultPath resolves the config file location: CONFIG_PATH when set,
// otherwise ~/.screen_translate/config.json.
func DefaultPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", configDir, configFile)
	}
	return filepath.Join(home, configDir, configFile)
}

// Validate rejects values outside the stored schema's bounds.
func Validate(cfg Config) error {
	if err := validateRegion("source_region", cfg.SourceRegion); err != nil {
		return err
	}
	if err := validateRegion("target_region", cfg.TargetRegion); err != nil {
		return err
	}
	if !sourceLanguages[cfg.Translation.SourceLanguage] {
		return apperr.Newf(apperr.CodeConfig, "unsupported source language %q", cfg.Translation.SourceLanguage)
	}
	if cfg.Translation.TargetLanguage != targetLanguage {
		return apperr.Newf(apperr.CodeConfig, "unsupported target language %q", cfg.Translation.TargetLanguage)
	}
	if cfg.Translation.IntervalMS < minIntervalMS || cfg.Translation.IntervalMS > maxIntervalMS {
		return apperr.Newf(apperr.CodeConfig, "interval_ms %d outside [%d,%d]", cfg.Translation.IntervalMS, minIntervalMS, maxIntervalMS)
	}
	if cfg.API.Endpoint == "" {
		return apperr.New(apperr.CodeConfig, "api endpoint must not be empty")
	}
	if cfg.API.Model == "" {
		return apperr.New(apperr.CodeConfig, "api model must not be empty")
	}
	if cfg.Overlay.FontSize < minFontSize || cfg.Overlay.FontSize > maxFontSize {
		return apperr.Newf(apperr.CodeConfig, "font_size %d outside [%d,%d]", cfg.Overlay.FontSize, minFontSize, maxFontSize)
	}
	return nil
}

func validateRegion(name string, r Region) error {
	if r.X < 0 || r.Y < 0 {
		return apperr.Newf(apperr.CodeConfig, "%s: origin must be non-negative", name)
	}
	if r.Width < 1 || r.Height < 1 {
		return apperr.Newf(apperr.CodeConfig, "%s: width and height must be at least 1", name)
	}
	return nil
}

// sanitize replaces invalid stored values with defaults, field by field,
// so a hand-edited file degrades instead of failing the load.
func sanitize(cfg Config) Config {
	def := Default()
	if err := validateRegion("source_region", cfg.SourceRegion); err != nil {
		slog.Warn("config value rejected, using default", "error", err)
		cfg.SourceRegion = def.SourceRegion
	}
	if err := validateRegion("target_region", cfg.TargetRegion); err != nil {
		slog.Warn("config value rejected, using default", "error", err)
		cfg.TargetRegion = def.TargetRegion
	}
	if !sourceLanguages[cfg.Translation.SourceLanguage] {
		slog.Warn("unsupported source language, using default", "value", cfg.Translation.SourceLanguage)
		cfg.Translation.SourceLanguage = def.Translation.SourceLanguage
	}
	if cfg.Translation.TargetLanguage != targetLanguage {
		slog.Warn("unsupported target language, using default", "value", cfg.Translation.TargetLanguage)
		cfg.Translation.TargetLanguage = def.Translation.TargetLanguage
	}
	if cfg.Translation.IntervalMS < minIntervalMS || cfg.Translation.IntervalMS > maxIntervalMS {
		slog.Warn("interval out of bounds, using default", "interval_ms", cfg.Translation.IntervalMS)
		cfg.Translation.IntervalMS = def.Translation.IntervalMS
	}
	if cfg.API.Endpoint == "" {
		slog.Warn("empty api endpoint, using default")
		cfg.API.Endpoint = def.API.Endpoint
	}
	if cfg.API.Model == "" {
		slog.Warn("empty api model, using default")
		cfg.API.Model = def.API.Model
	}
	if cfg.Overlay.FontSize < minFontSize || cfg.Overlay.FontSize > maxFontSize {
		slog.Warn("font size out of bounds, using default", "font_size", cfg.Overlay.FontSize)
		cfg.Overlay.FontSize = def.Overlay.FontSize
	}
	return cfg
}

// applyEnv overlays environment secrets on a loaded config. The file
// stays the source of truth for everything else.
func applyEnv(cfg Config) Config {
	cfg.API.APIKey = getEnv("OPENAI_API_KEY", cfg.API.APIKey)
	return cfg
}

// Manager owns one config file: it loads it (creating a default file on
// first run), hands out snapshots, persists updates and watches for
// edits.
type Manager struct {
	path string
	cfg  *syncx.RWGuard[Config]
}

// NewManager loads the file at path, or DefaultPath() when path is
// empty. A missing file is created with defaults; malformed JSON is an
// error.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		path = DefaultPath()
	}
	m := &Manager{path: path}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.cfg = syncx.NewGuard(cfg)
	return m, nil
}

// Path returns the config file location.
func (m *Manager) Path() string { return m.path }

// Config returns the current snapshot.
func (m *Manager) Config() Config {
	return m.cfg.Get()
}

// Update validates cfg, persists it and makes it the current snapshot.
// The engine picks it up at its next start.
func (m *Manager) Update(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := m.write(cfg); err != nil {
		return err
	}
	m.cfg.Set(cfg)
	slog.Info("configuration saved", "path", m.path)
	return nil
}

// Reload re-reads the file and swaps in the result.
func (m *Manager) Reload() (Config, error) {
	cfg, err := m.load()
	if err != nil {
		return Config{}, err
	}
	m.cfg.Set(cfg)
	return cfg, nil
}

// Watch emits a fresh snapshot whenever the file changes on disk, until
// ctx is cancelled. Snapshots are dropped, not queued, when the receiver
// lags.
func (m *Manager) Watch(ctx context.Context) (<-chan Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "create config watcher")
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, apperr.Wrapf(err, apperr.CodeConfig, "watch %s", dir)
	}

	out := make(chan Config, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != m.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := m.Reload()
				if err != nil {
					slog.Warn("config reload failed", "path", m.path, "error", err)
					continue
				}
				select {
				case out <- cfg:
				default:
					slog.Debug("config snapshot dropped, receiver busy")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return out, nil
}

func (m *Manager) load() (Config, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := m.write(Default()); err != nil {
			return Config{}, err
		}
		slog.Info("created default configuration", "path", m.path)
		return applyEnv(Default()), nil
	}
	if err != nil {
		return Config{}, apperr.Wrapf(err, apperr.CodeConfig, "read %s", m.path)
	}

	// Unmarshal over defaults so absent fields keep their default value.
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, apperr.Wrapf(err, apperr.CodeConfig, "parse %s", m.path)
	}
	return sanitize(applyEnv(cfg)), nil
}

func (m *Manager) write(cfg Config) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperr.Wrapf(err, apperr.CodeConfig, "create %s", dir)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "encode config")
	}
	data = append(data, '\n')
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return apperr.Wrapf(err, apperr.CodeConfig, "write %s", m.path)
	}
	return nil
}

// Runtime holds deployment settings that live in the environment rather
// than the config file.
type Runtime struct {
	HTTPAddr            string
	LogLevel            slog.Level
	TessdataPath        string
	SpeechServerURL     string
	TranscribeServerURL string
	AudioDeviceIndex    int
	AudioDeviceKeywords []string
}

// LoadRuntime reads the runtime settings from the environment.
func LoadRuntime() Runtime {
	return Runtime{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8000"),
		LogLevel:            parseLogLevel(getEnv("LOG_LEVEL", "debug")),
		TessdataPath:        getEnv("TESSDATA_PREFIX", ""),
		SpeechServerURL:     getEnv("SPEECH_SERVER_URL", "ws://localhost:2700"),
		TranscribeServerURL: getEnv("TRANSCRIBE_SERVER_URL", "http://localhost:8080/inference"),
		AudioDeviceIndex:    getEnvInt("AUDIO_DEVICE_INDEX", -1),
		AudioDeviceKeywords: getEnvList("AUDIO_DEVICE_KEYWORDS", nil),
	}
}

// parseLogLevel maps a LOG_LEVEL value onto a slog level. Unknown values
// fall back to debug.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
