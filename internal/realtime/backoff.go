package realtime

import "time"

// Backoff computes reconnect delays as min(base * 2^n, max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry n, counting from 1.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	return d
}
