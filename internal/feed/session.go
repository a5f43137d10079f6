package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/radar-downloader/internal/stomp"
)

const (
	subscriptionID = "sub-0"
	maxLoggedBody  = 200
)

// session is the state of a single connection. It is discarded on disconnect.
type session struct {
	client  *Client
	conn    *websocket.Conn
	decoder stomp.Decoder
	hb      *heartbeat
	logger  *zap.Logger

	writeMu      sync.Mutex
	connected    bool
	subscribedAt time.Time
}

func (s *session) run(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock ReadMessage when the parent context is cancelled.
	go func() {
		<-ctx.Done()
		_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
	}()

	defer s.setState(StateDisconnected)

	s.conn.SetReadLimit(maxMessageSize)

	s.logger.Info("websocket opened", zap.String("subprotocol", s.conn.Subprotocol()))

	connect := stomp.Encode(stomp.CommandConnect, []stomp.Header{
		{Name: stomp.HeaderAcceptVersion, Value: "1.2"},
		{Name: stomp.HeaderHost, Value: s.client.cfg.Host},
		{Name: stomp.HeaderHeartBeat, Value: fmt.Sprintf("%d,%d", s.proposedMs(), s.proposedMs())},
	}, nil)
	if err := s.write(websocket.TextMessage, connect); err != nil {
		return s.subscribedAt, fmt.Errorf("sending CONNECT: %w", err)
	}
	s.setState(StateAwaitingConnected)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return s.subscribedAt, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("websocket closed by server", zap.Error(err))
				return s.subscribedAt, nil
			}
			return s.subscribedAt, fmt.Errorf("reading feed: %w", err)
		}
		s.receive(ctx, msg)
	}
}

func (s *session) receive(ctx context.Context, msg []byte) {
	now := time.Now()
	s.hb.touch(now)

	frames, beat := s.decoder.Feed(msg)
	if beat {
		s.client.heartbeats.Add(1)
		return
	}

	for _, f := range frames {
		s.client.frames.Add(1)
		s.handleFrame(ctx, f, now)
	}
}

func (s *session) handleFrame(ctx context.Context, f stomp.Frame, now time.Time) {
	switch f.Command {
	case stomp.CommandConnected:
		s.onConnected(ctx, f, now)

	case stomp.CommandMessage:
		ev, err := ParseProductEvent(f.Body)
		if err != nil {
			s.client.malformed.Add(1)
			s.logger.Warn("dropping malformed message",
				zap.Error(err),
				zap.String("body", truncate(f.Body, maxLoggedBody)),
			)
			return
		}
		s.client.events.Add(1)
		s.client.handler.HandleEvent(ev)

	case stomp.CommandError:
		s.client.serverErrors.Add(1)
		s.logger.Error("stomp error frame",
			zap.String("message", f.Header(stomp.HeaderMessage)),
			zap.String("body", truncate(f.Body, maxLoggedBody)),
		)

	default:
		s.logger.Debug("ignoring frame", zap.String("command", f.Command))
	}
}

func (s *session) onConnected(ctx context.Context, f stomp.Frame, now time.Time) {
	if s.connected {
		s.logger.Debug("duplicate CONNECTED ignored")
		return
	}
	s.connected = true

	s.hb.interval = NegotiateHeartbeat(s.proposedMs(), f.Header(stomp.HeaderHeartBeat))
	s.hb.touch(now)

	s.logger.Info("stomp connected",
		zap.String("version", f.Header(stomp.HeaderVersion)),
		zap.String("serverHeartbeat", f.Header(stomp.HeaderHeartBeat)),
		zap.Duration("heartbeat", s.hb.interval),
	)

	go s.heartbeatLoop(ctx)

	subscribe := stomp.Encode(stomp.CommandSubscribe, []stomp.Header{
		{Name: stomp.HeaderID, Value: subscriptionID},
		{Name: stomp.HeaderDestination, Value: s.client.cfg.Topic},
		{Name: stomp.HeaderAck, Value: "auto"},
	}, nil)
	if err := s.write(websocket.TextMessage, subscribe); err != nil {
		// The read loop sees the broken socket and ends the session.
		s.logger.Error("sending SUBSCRIBE failed", zap.Error(err))
		return
	}

	s.setState(StateSubscribed)
	s.subscribedAt = now
	s.logger.Info("subscribed", zap.String("topic", s.client.cfg.Topic))
}

// heartbeatLoop sends EOL heart-beats and warns when the feed went quiet.
// It never closes the connection itself.
func (s *session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.hb.sendEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.write(websocket.TextMessage, []byte{'\n'}); err != nil {
				s.logger.Debug("heart-beat send failed", zap.Error(err))
			}
			if quiet, stale := s.hb.silence(now); stale {
				s.logger.Warn("no data received from feed, server might have stalled",
					zap.Duration("silence", quiet.Round(100*time.Millisecond)),
				)
			}
		}
	}
}

func (s *session) proposedMs() int {
	return int(s.client.cfg.Heartbeat.Milliseconds())
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *session) setState(state ConnectionState) {
	s.client.setState(state)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(" + strconv.Itoa(len(b)) + " bytes)"
}
