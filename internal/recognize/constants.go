// Package recognize converts captured frames into text spans.
package recognize

import "time"

// Recognition constants
const (
	// finalConfidence is assigned to completed streaming utterances
	finalConfidence = 0.9

	// partialConfidence is assigned to in-progress streaming fragments
	partialConfidence = 0.7

	// batchConfidence is assigned to one-shot transcriptions
	batchConfidence = 0.9

	// batchResultTTL is how long an unread transcription stays valid
	batchResultTTL = 10 * time.Second

	// dialTimeout bounds reaching a speech server at start
	dialTimeout = 5 * time.Second

	// transcribeTimeout bounds one whisper-server call
	transcribeTimeout = 30 * time.Second

	// stopJoinTimeout bounds waiting for background work at stop
	stopJoinTimeout = 2 * time.Second

	// maxErrorBody caps how much of a failed HTTP response is reported
	maxErrorBody = 2048
)
