package syncx

import "time"

// WaitTimeout blocks until done is closed or the timeout elapses.
// It reports whether done closed in time. Components use it to bound
// goroutine joins during Stop so a wedged worker cannot hang shutdown.
func WaitTimeout(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
