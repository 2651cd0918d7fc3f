// Package client assembles the realtime core behind one goroutine-safe facade.
//
// All components share a single event loop. Commands that touch component state are
// marshalled onto the loop with Loop.Do; snapshot reads go straight to the lock-free
// stores; REST operations block the caller and post their effect onto the loop.
package client

import (
	"context"
	"sync"

	"github.com/rtchat/internal/api"
	"github.com/rtchat/internal/call"
	"github.com/rtchat/internal/call/pionrtc"
	"github.com/rtchat/internal/chat"
	"github.com/rtchat/internal/config"
	"github.com/rtchat/internal/connection"
	"github.com/rtchat/internal/eventloop"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/presence"
	"github.com/rtchat/internal/transport"
)

// Options override the collaborators built from Config. Nil fields get production defaults.
type Options struct {
	Dialer   transport.Dialer
	History  chat.History
	Peers    call.PeerFactory
	Media    call.MediaSource
	Alerts   call.AlertSink
	Notifier chat.Notifier
}

// Client is safe for concurrent use. Lifecycle: New -> Connect -> ... -> Close.
type Client struct {
	loop     *eventloop.Loop
	conn     *connection.Manager
	presence *presence.Tracker
	chat     *chat.Synchronizer
	calls    *call.Controller
	tokens   *tokenSource

	closeOnce sync.Once
}

func New(cfg *config.Client, opts Options) *Client {
	if cfg == nil {
		cfg = config.DefaultClient()
	}
	tokens := &tokenSource{}
	if opts.Dialer == nil {
		opts.Dialer = transport.NewWSDialer(cfg.ServerURL, cfg.DialTimeout)
	}
	if opts.History == nil {
		opts.History = api.New(cfg.APIURL, tokens, nil)
	}
	if opts.Peers == nil {
		opts.Peers = pionrtc.NewFactory(cfg.CallICEServers)
	}
	if opts.Media == nil {
		opts.Media = pionrtc.Media{}
	}

	loop := eventloop.New()
	loop.Start()

	c := &Client{loop: loop, tokens: tokens}
	loop.Do(func() {
		c.conn = connection.New(loop, opts.Dialer, connection.Options{
			Policy:      cfg.ReconnectPolicy(),
			DialTimeout: cfg.DialTimeout,
		})
		c.presence = presence.New(loop, c.conn, presence.Options{
			TypingIdle:   cfg.TypingIdle,
			TypingExpiry: cfg.TypingExpiry,
			Resync:       cfg.PresenceResync,
		})
		c.chat = chat.New(loop, c.conn, chat.Options{
			History:   opts.History,
			Presence:  c.presence,
			Notifier:  opts.Notifier,
			SendRetry: cfg.SendRetryPolicy(),
		})
		c.calls = call.NewController(loop, c.conn, call.Options{
			Factory:      opts.Peers,
			Media:        opts.Media,
			Alerts:       opts.Alerts,
			RingInterval: cfg.RingInterval,
			MediaTimeout: cfg.MediaTimeout,
		})
	})
	return c
}

// Connect binds the client to identity and starts the session. token authenticates
// both the realtime session and REST calls.
func (c *Client) Connect(identity, token string) error {
	c.tokens.set(token)
	var err error
	c.loop.Do(func() { err = c.conn.Connect(identity, token) })
	return err
}

func (c *Client) Disconnect() {
	c.loop.Do(func() { c.conn.Disconnect() })
}

func (c *Client) Reconnect() error {
	var err error
	c.loop.Do(func() { err = c.conn.Reconnect() })
	return err
}

func (c *Client) Status() connection.Status {
	var s connection.Status
	c.loop.Do(func() { s = c.conn.Status() })
	return s
}

func (c *Client) Identity() string {
	var id string
	c.loop.Do(func() { id = c.conn.Identity() })
	return id
}

// OnStatus subscribes fn to connection status changes. fn runs on the event loop and
// must not call back into the Client.
func (c *Client) OnStatus(fn func(connection.StatusChange)) (cancel func()) {
	var off func()
	c.loop.Do(func() { off = c.conn.OnStatus(fn) })
	return c.onLoop(off)
}

// --- chat ---

func (c *Client) Chat() chat.State { return c.chat.State() }

// SubscribeChat has the same constraints as OnStatus.
func (c *Client) SubscribeChat(fn func(chat.State)) (cancel func()) {
	var off func()
	c.loop.Do(func() { off = c.chat.Subscribe(fn) })
	return c.onLoop(off)
}

func (c *Client) SendMessage(recipientID, text string, typ model.MessageType, replyToID string) (model.Message, error) {
	var (
		msg model.Message
		err error
	)
	c.loop.Do(func() { msg, err = c.chat.SendMessage(recipientID, text, typ, replyToID) })
	return msg, err
}

func (c *Client) MarkMessageAsRead(messageID, senderID string) error {
	var err error
	c.loop.Do(func() { err = c.chat.MarkMessageAsRead(messageID, senderID) })
	return err
}

func (c *Client) OpenConversation(peerID string) (string, error) {
	var (
		id  string
		err error
	)
	c.loop.Do(func() { id, err = c.chat.OpenConversation(peerID) })
	return id, err
}

func (c *Client) CloseConversation(conversationID string) {
	c.loop.Do(func() { c.chat.CloseConversation(conversationID) })
}

func (c *Client) LoadHistory(ctx context.Context, peerID string) error {
	return c.chat.LoadHistory(ctx, peerID)
}

func (c *Client) LoadConversations(ctx context.Context) error {
	return c.chat.LoadConversations(ctx)
}

func (c *Client) EditMessage(ctx context.Context, messageID, text string) error {
	return c.chat.EditMessage(ctx, messageID, text)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.chat.DeleteMessage(ctx, messageID)
}

func (c *Client) MarkConversationRead(ctx context.Context, peerID string) error {
	return c.chat.MarkConversationRead(ctx, peerID)
}

// --- presence ---

func (c *Client) Presence() presence.Snapshot { return c.presence.Snapshot() }

func (c *Client) SubscribePresence(fn func(presence.Snapshot)) (cancel func()) {
	var off func()
	c.loop.Do(func() { off = c.presence.Subscribe(fn) })
	return c.onLoop(off)
}

// InputChanged feeds composer text for peerID into typing detection.
func (c *Client) InputChanged(peerID, text string) {
	c.loop.Do(func() { c.presence.InputChanged(peerID, text) })
}

func (c *Client) StopTyping(peerID string) {
	c.loop.Do(func() { c.presence.StopTyping(peerID) })
}

// --- calls ---

func (c *Client) Call() call.Snapshot { return c.calls.Snapshot() }

func (c *Client) SubscribeCall(fn func(call.Snapshot)) (cancel func()) {
	var off func()
	c.loop.Do(func() { off = c.calls.Subscribe(fn) })
	return c.onLoop(off)
}

func (c *Client) StartCall(peerID string, typ model.CallType) error {
	var err error
	c.loop.Do(func() { err = c.calls.StartOutgoing(peerID, typ) })
	return err
}

func (c *Client) AcceptCall() error {
	var err error
	c.loop.Do(func() { err = c.calls.Accept() })
	return err
}

func (c *Client) RejectCall() error {
	var err error
	c.loop.Do(func() { err = c.calls.Reject() })
	return err
}

func (c *Client) EndCall() error {
	var err error
	c.loop.Do(func() { err = c.calls.End() })
	return err
}

func (c *Client) SetMuted(muted bool) error {
	var err error
	c.loop.Do(func() { err = c.calls.SetMuted(muted) })
	return err
}

func (c *Client) SetVideoEnabled(enabled bool) error {
	var err error
	c.loop.Do(func() { err = c.calls.SetVideoEnabled(enabled) })
	return err
}

// Close ends any call, disconnects and stops the event loop. Safe to call twice.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.loop.Do(func() {
			c.calls.Close()
			c.chat.Close()
			c.presence.Close()
			c.conn.Disconnect()
		})
		c.loop.Stop()
		logger.Debugf("client closed")
	})
}

// onLoop wraps a loop-only cancel func so callers may use it from any goroutine.
func (c *Client) onLoop(off func()) func() {
	return func() { c.loop.Do(off) }
}

// tokenSource hands the session credential to the REST client.
type tokenSource struct {
	mu    sync.RWMutex
	token string
}

func (t *tokenSource) set(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

func (t *tokenSource) Token(context.Context) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token, nil
}
