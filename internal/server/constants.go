// Package server exposes the translation engine over HTTP and WebSocket.
package server

import "time"

// Server configuration constants
const (
	// Per-connection limit on inbound WebSocket commands
	RateLimitMessages = 10          // Max commands per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// writeTimeout bounds one outbound WebSocket write
	writeTimeout = 5 * time.Second
)
