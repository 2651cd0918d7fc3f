// Package presence derives who is online and who is typing from transport events.
package presence

import (
	"sort"
	"time"

	"github.com/rtchat/internal/connection"
	"github.com/rtchat/internal/eventloop"
	"github.com/rtchat/internal/protocol"
)

// Conn is the part of connection.Manager the tracker needs.
type Conn interface {
	Send(ev protocol.Event) error
	OnStatus(fn func(connection.StatusChange)) func()
	OnEvent(fn func(protocol.Event)) func()
}

type Options struct {
	// TypingIdle is the quiet period after the last keystroke before typing_stop is sent.
	TypingIdle time.Duration
	// TypingExpiry bounds how long an inbound typing signal is shown without a refresh.
	TypingExpiry time.Duration
	// Resync is the period of full snapshot requests while connected.
	Resync time.Duration
}

func (o *Options) withDefaults() {
	if o.TypingIdle <= 0 {
		o.TypingIdle = 2 * time.Second
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 3 * time.Second
	}
	if o.Resync <= 0 {
		o.Resync = 30 * time.Second
	}
}

// Snapshot is an immutable view of presence. Do not modify its maps.
type Snapshot struct {
	Online map[string]bool
	Typing map[string]bool
}

func (s Snapshot) IsOnline(userID string) bool { return s.Online[userID] }
func (s Snapshot) IsTyping(userID string) bool { return s.Typing[userID] }

// OnlineIDs returns the online users in sorted order.
func (s Snapshot) OnlineIDs() []string {
	ids := make([]string, 0, len(s.Online))
	for id := range s.Online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tracker is loop-confined like connection.Manager.
type Tracker struct {
	sched eventloop.Scheduler
	conn  Conn
	opts  Options

	online   map[string]struct{}
	typing   map[string]eventloop.Timer // inbound, with expiry
	outbound map[string]eventloop.Timer // peers we are typing to, with idle timer
	resync   eventloop.Timer

	store  *eventloop.Store[Snapshot]
	cancel []func()
}

func New(sched eventloop.Scheduler, conn Conn, opts Options) *Tracker {
	opts.withDefaults()
	t := &Tracker{
		sched:    sched,
		conn:     conn,
		opts:     opts,
		online:   make(map[string]struct{}),
		typing:   make(map[string]eventloop.Timer),
		outbound: make(map[string]eventloop.Timer),
		store:    eventloop.NewStore(Snapshot{Online: map[string]bool{}, Typing: map[string]bool{}}),
	}
	t.cancel = append(t.cancel,
		conn.OnStatus(t.onStatus),
		conn.OnEvent(t.onEvent),
	)
	return t
}

// Snapshot returns the current presence view. Safe from any goroutine.
func (t *Tracker) Snapshot() Snapshot { return t.store.Load() }

// Subscribe registers fn for every published snapshot.
func (t *Tracker) Subscribe(fn func(Snapshot)) func() { return t.store.Subscribe(fn) }

// InputChanged feeds the composer text for peer. The first keystroke sends typing_start;
// every keystroke re-arms the idle timer; empty text stops typing at once.
func (t *Tracker) InputChanged(peer, text string) {
	if peer == "" {
		return
	}
	if text == "" {
		t.StopTyping(peer)
		return
	}
	if timer, ok := t.outbound[peer]; ok {
		timer.Stop()
	} else {
		_ = t.conn.Send(protocol.TypingStart{ReceiverID: peer})
	}
	t.outbound[peer] = t.sched.AfterFunc(t.opts.TypingIdle, func() {
		delete(t.outbound, peer)
		_ = t.conn.Send(protocol.TypingStop{ReceiverID: peer})
	})
}

// StopTyping sends typing_stop to peer if typing_start was sent and not yet stopped.
func (t *Tracker) StopTyping(peer string) {
	timer, ok := t.outbound[peer]
	if !ok {
		return
	}
	timer.Stop()
	delete(t.outbound, peer)
	_ = t.conn.Send(protocol.TypingStop{ReceiverID: peer})
}

// ObservePeerActivity marks userID online; any inbound message proves the sender is connected.
func (t *Tracker) ObservePeerActivity(userID string) {
	if userID == "" {
		return
	}
	if _, ok := t.online[userID]; ok {
		return
	}
	t.online[userID] = struct{}{}
	t.publish()
}

// Close cancels every timer and detaches from the connection.
func (t *Tracker) Close() {
	for _, c := range t.cancel {
		c()
	}
	t.cancel = nil
	t.stopResync()
	for id, timer := range t.typing {
		timer.Stop()
		delete(t.typing, id)
	}
	for id, timer := range t.outbound {
		timer.Stop()
		delete(t.outbound, id)
	}
}

func (t *Tracker) onStatus(ch connection.StatusChange) {
	if ch.Status != connection.StatusConnected {
		t.stopResync()
		// Outbound typing state dies with the session; the peer's expiry clears it remotely.
		for id, timer := range t.outbound {
			timer.Stop()
			delete(t.outbound, id)
		}
		return
	}
	t.requestSnapshot()
}

func (t *Tracker) requestSnapshot() {
	_ = t.conn.Send(protocol.GetOnlineUsers{})
	t.stopResync()
	t.resync = t.sched.AfterFunc(t.opts.Resync, func() {
		t.resync = nil
		t.requestSnapshot()
	})
}

func (t *Tracker) stopResync() {
	if t.resync != nil {
		t.resync.Stop()
		t.resync = nil
	}
}

func (t *Tracker) onEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.OnlineUsersList:
		online := make(map[string]struct{}, len(e.Users))
		for _, id := range e.Users {
			online[id] = struct{}{}
		}
		t.online = online
		t.publish()
	case protocol.UserOnline:
		if _, ok := t.online[e.UserID]; !ok {
			t.online[e.UserID] = struct{}{}
			t.publish()
		}
	case protocol.UserOffline:
		delete(t.online, e.UserID)
		t.clearTyping(e.UserID)
		t.publish()
	case protocol.UserTyping:
		if e.IsTyping {
			t.setTyping(e.UserID)
		} else {
			t.clearTyping(e.UserID)
		}
		t.publish()
	}
}

func (t *Tracker) setTyping(userID string) {
	if timer, ok := t.typing[userID]; ok {
		timer.Stop()
	}
	t.typing[userID] = t.sched.AfterFunc(t.opts.TypingExpiry, func() {
		delete(t.typing, userID)
		t.publish()
	})
}

func (t *Tracker) clearTyping(userID string) {
	if timer, ok := t.typing[userID]; ok {
		timer.Stop()
		delete(t.typing, userID)
	}
}

func (t *Tracker) publish() {
	snap := Snapshot{
		Online: make(map[string]bool, len(t.online)),
		Typing: make(map[string]bool, len(t.typing)),
	}
	for id := range t.online {
		snap.Online[id] = true
	}
	for id := range t.typing {
		snap.Typing[id] = true
	}
	t.store.Publish(snap)
}
