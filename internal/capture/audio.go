package capture

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/mucsbr/Screen-Translate/internal/apperr"
)

// AudioMode selects how Capture hands audio to the recognizer.
type AudioMode int

const (
	// ModeDrain returns whatever has queued since the last call, for
	// recognizers that consume audio incrementally.
	ModeDrain AudioMode = iota
	// ModeAccumulate gathers audio until AccumulateDuration is covered,
	// then yields one combined frame, for one-shot transcription.
	ModeAccumulate
)

// AutoDevice selects the loopback device by name scan instead of index.
const AutoDevice = -1

// AudioConfig configures an audio frame source.
type AudioConfig struct {
	// DeviceIndex is an explicit index into the enumerated input
	// devices; AutoDevice scans for a loopback device by name.
	DeviceIndex int
	// Keywords are the device name signatures matched during the scan.
	// Empty means the default loopback signatures.
	Keywords   []string
	SampleRate int
	Mode       AudioMode
}

// AudioSource captures mono 16-bit PCM from a loopback input device. The
// hardware read loop pushes chunks into a bounded queue without blocking;
// Capture drains the queue on the engine's poll goroutine.
type AudioSource struct {
	cfg   AudioConfig
	queue chan []byte
	accum []byte

	mu      sync.Mutex
	running bool
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	device  string
}

// NewAudioSource creates an audio frame source.
func NewAudioSource(cfg AudioConfig) *AudioSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &AudioSource{
		cfg:   cfg,
		queue: make(chan []byte, chunkQueueSize),
	}
}

// Device returns the name of the opened device, empty before Start.
func (s *AudioSource) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Start opens the input device and begins the hardware read loop.
// Idempotent while running.
func (s *AudioSource) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return apperr.Wrap(err, apperr.CodeEnvironment, "audio subsystem initialization failed")
	}

	dev, err := s.resolveDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.cfg.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return apperr.Wrapf(err, apperr.CodeEnvironment,
			"cannot open audio stream on %q: check that the loopback device is configured and the app has microphone access", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return apperr.Wrapf(err, apperr.CodeEnvironment,
			"audio stream failed to start on %q: route the system output to the loopback device and play some audio", dev.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stream = stream
	s.cancel = cancel
	s.device = dev.Name
	s.running = true
	s.mu.Unlock()

	go s.produce(ctx, stream, buf)
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", s.cfg.SampleRate)
	return nil
}

// produce is the hardware-driven read loop. It must never block on the
// queue; a full queue drops the chunk.
func (s *AudioSource) produce(ctx context.Context, stream *portaudio.Stream, buf []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			slog.Debug("audio read error", "device", s.device, "error", err)
			return
		}

		chunk := pcmBytes(buf)
		select {
		case s.queue <- chunk:
		default:
			slog.Debug("audio queue full, dropping chunk", "device", s.device)
		}
	}
}

// Capture drains queued chunks and returns a frame per the configured
// mode, or (nil, nil) when not enough audio has arrived. The region is
// ignored for audio.
func (s *AudioSource) Capture(ctx context.Context, _ Region) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks := s.drainQueue()

	switch s.cfg.Mode {
	case ModeAccumulate:
		s.mu.Lock()
		for _, c := range chunks {
			s.accum = append(s.accum, c...)
		}
		if len(s.accum) < s.accumTarget() {
			s.mu.Unlock()
			return nil, nil
		}
		pcm := s.accum
		s.accum = nil
		s.mu.Unlock()
		return s.frame(pcm), nil
	default:
		if len(chunks) == 0 {
			return nil, nil
		}
		var pcm []byte
		for _, c := range chunks {
			pcm = append(pcm, c...)
		}
		return s.frame(pcm), nil
	}
}

// Stop closes the stream and discards buffered audio. Safe to call
// repeatedly and without a prior Start.
func (s *AudioSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		_ = s.stream.Stop()
		_ = s.stream.Close()
		s.stream = nil
	}
	_ = portaudio.Terminate()

	for {
		select {
		case <-s.queue:
		default:
			s.accum = nil
			return
		}
	}
}

func (s *AudioSource) resolveDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeEnvironment, "cannot enumerate audio devices")
	}

	var dev *portaudio.DeviceInfo
	if s.cfg.DeviceIndex >= 0 {
		if s.cfg.DeviceIndex >= len(devices) {
			return nil, apperr.Newf(apperr.CodeEnvironment,
				"audio device index %d out of range (%d devices present)", s.cfg.DeviceIndex, len(devices))
		}
		dev = devices[s.cfg.DeviceIndex]
	} else {
		dev = findLoopbackDevice(devices, s.keywords())
		if dev == nil {
			return nil, apperr.Newf(apperr.CodeEnvironment,
				"no loopback input device found (looked for %s): install one (brew install blackhole-2ch), "+
					"switch the system audio output to it, and play some audio so a stream flows through it",
				strings.Join(s.keywords(), ", "))
		}
	}

	if dev.MaxInputChannels < 1 {
		return nil, apperr.Newf(apperr.CodeEnvironment, "audio device %q does not support input", dev.Name)
	}
	if dev.DefaultSampleRate <= 0 {
		return nil, apperr.Newf(apperr.CodeEnvironment, "audio device %q reports an invalid sample rate", dev.Name)
	}
	return dev, nil
}

func (s *AudioSource) keywords() []string {
	if len(s.cfg.Keywords) > 0 {
		return s.cfg.Keywords
	}
	return defaultDeviceKeywords
}

func (s *AudioSource) drainQueue() [][]byte {
	var chunks [][]byte
	for {
		select {
		case c := <-s.queue:
			chunks = append(chunks, c)
		default:
			return chunks
		}
	}
}

// accumTarget is the byte count covering AccumulateDuration of mono
// 16-bit audio at the configured rate.
func (s *AudioSource) accumTarget() int {
	return int(AccumulateDuration.Seconds() * float64(s.cfg.SampleRate) * 2)
}

func (s *AudioSource) frame(pcm []byte) *Frame {
	return &Frame{Kind: KindAudio, PCM: pcm, Device: s.Device(), Captured: time.Now()}
}

// findLoopbackDevice returns the first input-capable device whose name
// contains one of the keywords.
func findLoopbackDevice(devices []*portaudio.DeviceInfo, keywords []string) *portaudio.DeviceInfo {
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		for _, kw := range keywords {
			if containsIgnoreCase(dev.Name, kw) {
				return dev
			}
		}
	}
	return nil
}

// pcmBytes converts int16 samples to little-endian bytes.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
