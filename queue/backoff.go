package queue

import "time"

// Backoff computes exponential retry delays capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the given retry. attempt starts at 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Past 30 doublings any sane base is over the cap anyway.
	if attempt > 30 {
		return b.Max
	}
	return min(b.Base*time.Duration(1<<(attempt-1)), b.Max)
}
