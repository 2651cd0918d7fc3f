// Package transport owns the duplex session to the relay. Sessions speak protocol events;
// connection.Manager is the only component that dials.
package transport

import (
	"context"
	"errors"

	"github.com/rtchat/internal/protocol"
)

var (
	// ErrUnauthorized means the relay rejected the credential during the handshake.
	ErrUnauthorized = errors.New("transport: unauthorized")
	ErrClosed       = errors.New("transport: session closed")
	ErrBufferFull   = errors.New("transport: send buffer full")
)

// Handler receives a session's inbound traffic. Callbacks run on the session's reader
// goroutine; OnClose is called exactly once, after the last OnEvent.
type Handler struct {
	OnEvent func(protocol.Event)
	OnClose func(err error)
}

// Session is one live duplex connection.
type Session interface {
	Send(ev protocol.Event) error
	Close() error
}

// Dialer opens sessions authenticated with a bearer token.
type Dialer interface {
	Dial(ctx context.Context, token string, h Handler) (Session, error)
}
