package stomp

import "bytes"

// heartbeatFrame is the bare EOL a peer sends instead of a frame to prove liveness.
var heartbeatFrame = []byte{newline}

// Decoder turns a stream of arbitrarily sized chunks into frames.
// It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the carry-over buffer and returns every complete frame.
// heartbeat is true when the buffered input is exactly one bare newline;
// that input is consumed and yields no frame.
func (d *Decoder) Feed(chunk []byte) (frames []Frame, heartbeat bool) {
	d.buf = append(d.buf, chunk...)

	if bytes.Equal(d.buf, heartbeatFrame) {
		d.buf = d.buf[:0]
		return nil, true
	}

	frames, rest := Split(d.buf)
	// Compact so the backing array does not grow for the lifetime of the connection.
	d.buf = append(d.buf[:0], rest...)
	return frames, false
}

// Buffered returns the number of bytes waiting for a terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}
