package feed

import "time"

// Backoff yields reconnect delays that start at Min and double up to Max.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	next time.Duration
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next < b.Min {
		b.next = b.Min
	}
	d := b.next
	b.next = min(b.next*2, b.Max)
	return d
}

// Reset restarts the sequence at Min.
func (b *Backoff) Reset() {
	b.next = 0
}
