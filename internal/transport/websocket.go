package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/protocol"
)

const (
	defaultWriteWait   = 10 * time.Second
	defaultPongWait    = 60 * time.Second
	defaultSendBufSize = 256
	maxMessageSize     = 64 << 10
)

// WSDialer dials the relay over gorilla/websocket.
type WSDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	SendBufSize      int
}

func NewWSDialer(url string, handshakeTimeout time.Duration) *WSDialer {
	return &WSDialer{URL: url, HandshakeTimeout: handshakeTimeout}
}

func (d *WSDialer) Dial(ctx context.Context, token string, h Handler) (Session, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport.Dial: %w", err)
	}

	s := &wsSession{
		conn:      conn,
		handler:   h,
		send:      make(chan []byte, orDefault(d.SendBufSize, defaultSendBufSize)),
		done:      make(chan struct{}),
		writeWait: orDuration(d.WriteWait, defaultWriteWait),
		pongWait:  orDuration(d.PongWait, defaultPongWait),
	}
	s.wg.Add(2)
	go s.writePump()
	go s.readPump()
	return s, nil
}

// wsSession mirrors the relay-side client: one reader, one writer with keepalive pings.
type wsSession struct {
	conn      *websocket.Conn
	handler   Handler
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	writeWait time.Duration
	pongWait  time.Duration
}

func (s *wsSession) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

// Close stops both pumps; the writer sends a close frame and closes the socket.
// Safe to call multiple times from any goroutine.
func (s *wsSession) Close() error {
	s.shutdown()
	return nil
}

func (s *wsSession) shutdown() {
	s.once.Do(func() { close(s.done) })
}

func (s *wsSession) readPump() {
	defer s.wg.Done()
	var closeErr error
	defer func() {
		s.shutdown()
		if s.handler.OnClose != nil {
			s.handler.OnClose(closeErr)
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.pongWait)); err != nil {
		closeErr = err
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	s.conn.SetPingHandler(func(data string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.pongWait)); err != nil {
			return err
		}
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.writeWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Errorf("transport read error: %v", err)
				}
				closeErr = err
			}
			return
		}
		ev, err := protocol.Decode(raw)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownEvent) {
				logger.Debugf("transport: skipping %v", err)
			} else {
				logger.Warnf("transport decode: %v", err)
			}
			continue
		}
		if s.handler.OnEvent != nil {
			s.handler.OnEvent(ev)
		}
	}
}

func (s *wsSession) writePump() {
	defer s.wg.Done()
	ticker := time.NewTicker((s.pongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.shutdown()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case data := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warnf("transport write: %v", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
