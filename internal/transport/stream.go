package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second // keep-alive cadence
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// Stream maintains one WebSocket connection with automatic reconnection and
// exponential backoff. Incoming messages go to the OnMessage callback; the
// OnConnect hook runs after every (re)connect so the adapter can replay its
// subscriptions.
type Stream struct {
	url    string
	logger *slog.Logger

	// OnMessage receives every raw message. Required.
	OnMessage func(data []byte)
	// OnConnect runs after each successful dial; adapters resubscribe here.
	OnConnect func() error

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewStream creates a stream for the given endpoint. Set OnMessage (and
// usually OnConnect) before Run.
func NewStream(url string, logger *slog.Logger) *Stream {
	return &Stream{url: url, logger: logger.With("component", "stream")}
}

// Run dials and reads until ctx is cancelled, reconnecting with exponential
// backoff (1s doubling to 30s) after every failure.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// SendJSON writes one JSON message on the live connection.
func (s *Stream) SendJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// SendText writes one text message on the live connection.
func (s *Stream) SendText(data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the live connection; Run's read loop returns and
// reconnects unless its context ended.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if s.OnConnect != nil {
		if err := s.OnConnect(); err != nil {
			return fmt.Errorf("on connect: %w", err)
		}
	}
	s.logger.Info("stream connected", "url", s.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if s.OnMessage != nil {
			s.OnMessage(msg)
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SendText([]byte("PING")); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}
