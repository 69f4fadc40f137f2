// Package engine drives the capture, recognition, deduplication and
// translation cycle and publishes what happens on an event stream.
package engine

import "time"

// Engine constants
const (
	// translationTTL is how long unchanged text stays suppressed before
	// the cache allows a re-translation
	translationTTL = 2 * time.Second

	// DefaultInterval is the poll delay when none is configured
	DefaultInterval = 800 * time.Millisecond

	// MinInterval and MaxInterval bound the configured poll delay
	MinInterval = 100 * time.Millisecond
	MaxInterval = 5 * time.Second

	// stopJoinTimeout bounds waiting for the run loop at Stop
	stopJoinTimeout = 2 * time.Second

	// eventBuffer is the per-subscriber event queue length
	eventBuffer = 64

	// historySize caps the completed-translation ring
	historySize = 100

	// logPreviewLen caps text excerpts quoted in log events
	logPreviewLen = 30
)
