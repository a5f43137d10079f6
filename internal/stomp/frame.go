// Package stomp implements the subset of the STOMP 1.2 text framing used by the feed.
package stomp

import (
	"bytes"
	"strings"
)

// STOMP commands.
const (
	CommandConnect     = "CONNECT"
	CommandStomp       = "STOMP"
	CommandConnected   = "CONNECTED"
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandAck         = "ACK"
	CommandNack        = "NACK"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
)

// Header names used by the client.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderHeartBeat     = "heart-beat"
	HeaderVersion       = "version"
	HeaderID            = "id"
	HeaderDestination   = "destination"
	HeaderAck           = "ack"
	HeaderMessage       = "message"
)

const (
	terminator = 0x00
	newline    = '\n'
)

// Header is a single name:value pair as it appears on the wire.
type Header struct {
	Name  string
	Value string
}

// Frame is one decoded STOMP frame. Headers keep wire order.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// Header returns the value of the named header. Repeated names resolve to the last one.
func (f Frame) Header(name string) string {
	v, _ := f.lookup(name)
	return v
}

// HasHeader reports whether the frame carries the named header.
func (f Frame) HasHeader(name string) bool {
	_, ok := f.lookup(name)
	return ok
}

func (f Frame) lookup(name string) (string, bool) {
	for i := len(f.Headers) - 1; i >= 0; i-- {
		if f.Headers[i].Name == name {
			return f.Headers[i].Value, true
		}
	}
	return "", false
}

// Encode renders a frame as COMMAND\nname:value\n...\n\nbody\x00.
func Encode(command string, headers []Header, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(command) + len(body) + 32*len(headers) + 3)

	buf.WriteString(command)
	buf.WriteByte(newline)
	for _, h := range headers {
		buf.WriteString(h.Name)
		buf.WriteByte(':')
		buf.WriteString(h.Value)
		buf.WriteByte(newline)
	}
	buf.WriteByte(newline)
	buf.Write(body)
	buf.WriteByte(terminator)
	return buf.Bytes()
}

// Split cuts buf at every frame terminator and returns the complete frames
// together with the bytes after the last terminator.
// Chunks without a command line are dropped.
func Split(buf []byte) ([]Frame, []byte) {
	var frames []Frame
	for {
		idx := bytes.IndexByte(buf, terminator)
		if idx < 0 {
			return frames, buf
		}
		if f, ok := parse(buf[:idx]); ok {
			frames = append(frames, f)
		}
		buf = buf[idx+1:]
	}
}

func parse(raw []byte) (Frame, bool) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	// EOLs between frames (heart-beats) end up in front of the next command.
	text = strings.TrimLeft(text, "\n\r\t ")

	head, body, _ := strings.Cut(text, "\n\n")

	var f Frame
	for _, line := range strings.Split(head, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if f.Command == "" {
			f.Command = strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		f.Headers = append(f.Headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	if f.Command == "" {
		return Frame{}, false
	}
	if body != "" {
		f.Body = []byte(body)
	}
	return f, true
}
