// Package capture provides the frame sources feeding the recognition
// pipeline.
package capture

import "time"

// Capture constants
const (
	// DefaultSampleRate is the PCM rate the speech recognizers expect.
	DefaultSampleRate = 16000

	// framesPerBuffer is the chunk size read per callback (~64ms at 16kHz)
	framesPerBuffer = 1024

	// chunkQueueSize bounds the producer→consumer audio queue
	chunkQueueSize = 64

	// AccumulateDuration is how much audio the batched mode gathers
	// before yielding a combined frame
	AccumulateDuration = 3 * time.Second

	// maxHashDistance is the pHash Hamming distance at or below which a
	// frame counts as unchanged (similarity > 95% on a 64-bit hash)
	maxHashDistance = 3

	// hashSkipWindow caps how long similar frames are suppressed, so a
	// static region still reaches the recognizer periodically and the
	// dedup cache stays the authority on re-translation
	hashSkipWindow = 2 * time.Second

	// maxFrameWidth is the bound above which frames are downscaled
	// before recognition
	maxFrameWidth = 1600
)

// defaultDeviceKeywords are the loopback device name signatures searched
// when no explicit device index is configured.
var defaultDeviceKeywords = []string{"blackhole", "black hole"}
