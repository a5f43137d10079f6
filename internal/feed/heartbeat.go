package feed

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// Heart-beat we propose in CONNECT, both directions, in milliseconds.
	proposedHeartbeatMs = 10000
	defaultHeartbeatMs  = 10000

	// The ticker fires early so a beat lands before the peer's deadline.
	heartbeatMargin = 0.9

	minStaleAfter = 30 * time.Second
)

// NegotiateHeartbeat computes the interval at which the client sends heart-beats.
// serverHeader is the CONNECTED heart-beat header "sx,sy" where sy is what the
// server wants to receive.
func NegotiateHeartbeat(clientSendMs int, serverHeader string) time.Duration {
	_, serverAcceptMs := parseHeartbeat(serverHeader)

	var ms int
	switch {
	case clientSendMs > 0 && serverAcceptMs > 0:
		ms = max(clientSendMs, serverAcceptMs)
	case clientSendMs > 0:
		ms = clientSendMs
	case serverAcceptMs > 0:
		ms = serverAcceptMs
	default:
		ms = defaultHeartbeatMs
	}
	return time.Duration(ms) * time.Millisecond
}

func parseHeartbeat(h string) (int, int) {
	sx, sy, ok := strings.Cut(h, ",")
	if !ok {
		return 0, 0
	}
	x, err := strconv.Atoi(strings.TrimSpace(sx))
	if err != nil || x < 0 {
		return 0, 0
	}
	y, err := strconv.Atoi(strings.TrimSpace(sy))
	if err != nil || y < 0 {
		return 0, 0
	}
	return x, y
}

// heartbeat is the per-connection contract derived from negotiation.
type heartbeat struct {
	interval    time.Duration
	lastReceive atomic.Int64 // unix nanos
}

func newHeartbeat(now time.Time) *heartbeat {
	hb := &heartbeat{interval: defaultHeartbeatMs * time.Millisecond}
	hb.touch(now)
	return hb
}

func (h *heartbeat) touch(now time.Time) {
	h.lastReceive.Store(now.UnixNano())
}

func (h *heartbeat) sendEvery() time.Duration {
	return time.Duration(float64(h.interval) * heartbeatMargin)
}

// silence returns how long nothing was received and whether that exceeds the
// liveness budget of max(30s, 3*interval).
func (h *heartbeat) silence(now time.Time) (time.Duration, bool) {
	quiet := now.Sub(time.Unix(0, h.lastReceive.Load()))
	return quiet, quiet > max(minStaleAfter, 3*h.interval)
}
