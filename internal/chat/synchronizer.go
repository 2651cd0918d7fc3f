// Package chat keeps the local view of two-party conversations in sync with the relay.
//
// The Synchronizer turns user intent into optimistic records, reconciles them with
// acknowledgements and inbound events, and publishes every change as a new State.
// Like connection.Manager it is loop-confined, except for the REST operations in
// history.go which block the caller and post their results onto the loop.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rtchat/internal/connection"
	"github.com/rtchat/internal/eventloop"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/metrics"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
	"github.com/rtchat/internal/retry"
)

var (
	ErrNoIdentity   = errors.New("chat: no identity")
	ErrNoRecipient  = errors.New("chat: recipient required")
	ErrEmptyText    = errors.New("chat: empty text")
	ErrInvalidType  = errors.New("chat: invalid message type")
	ErrNoMessage    = errors.New("chat: message id required")
	ErrNoHistoryAPI = errors.New("chat: history api not configured")
)

const tempIDPrefix = "temp_"

// Conn is the part of connection.Manager the synchronizer needs.
type Conn interface {
	Send(ev protocol.Event) error
	Nudge() error
	Identity() string
	OnEvent(fn func(protocol.Event)) func()
}

// History is the REST read model and mutation endpoint.
type History interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Messages(ctx context.Context, peerID string) ([]model.Message, error)
	EditMessage(ctx context.Context, messageID, text string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, peerID string) error
}

// Presence receives proof of life for peers that send us messages.
type Presence interface {
	ObservePeerActivity(userID string)
}

// Notifier is told about every inbound message from a peer.
type Notifier interface {
	NotifyMessage(m model.Message)
}

type NopNotifier struct{}

func (NopNotifier) NotifyMessage(model.Message) {}

type Options struct {
	History  History
	Presence Presence
	Notifier Notifier
	// SendRetry is applied when a send finds no live session. Defaults to one retry after 1s.
	SendRetry retry.Policy
}

type Synchronizer struct {
	sched eventloop.Scheduler
	conn  Conn
	opts  Options

	convs       map[string]model.Conversation
	active      string
	retryTimers map[string]eventloop.Timer // by temp id

	store  *eventloop.Store[State]
	cancel func()
}

func New(sched eventloop.Scheduler, conn Conn, opts Options) *Synchronizer {
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.SendRetry.BaseDelay <= 0 {
		opts.SendRetry = retry.Once(time.Second)
	}
	s := &Synchronizer{
		sched:       sched,
		conn:        conn,
		opts:        opts,
		convs:       make(map[string]model.Conversation),
		retryTimers: make(map[string]eventloop.Timer),
		store:       eventloop.NewStore(State{Conversations: map[string]model.Conversation{}}),
	}
	s.cancel = conn.OnEvent(s.onEvent)
	return s
}

// State returns the latest snapshot. Safe from any goroutine.
func (s *Synchronizer) State() State { return s.store.Load() }

// Subscribe registers fn for every published snapshot.
func (s *Synchronizer) Subscribe(fn func(State)) func() { return s.store.Subscribe(fn) }

// SendMessage appends an optimistic record and emits it. Validation failures never
// touch state. A send without a live session triggers a reconnect and the send retry policy;
// when that is exhausted the record becomes failed.
func (s *Synchronizer) SendMessage(recipientID, text string, typ model.MessageType, replyToID string) (model.Message, error) {
	self := s.conn.Identity()
	switch {
	case self == "":
		return model.Message{}, ErrNoIdentity
	case recipientID == "":
		return model.Message{}, ErrNoRecipient
	case strings.TrimSpace(text) == "":
		return model.Message{}, ErrEmptyText
	}
	if typ == "" {
		typ = model.MessageTypeText
	}
	if !typ.Valid() {
		return model.Message{}, ErrInvalidType
	}

	msg := model.Message{
		TempID:         tempIDPrefix + uuid.NewString(),
		SenderID:       self,
		RecipientID:    recipientID,
		ConversationID: model.ConversationID(self, recipientID),
		Text:           text,
		Type:           typ,
		Timestamp:      s.sched.Now().UnixMilli(),
		Status:         model.MessageStatusSending,
		ReplyToID:      replyToID,
	}
	s.update(msg.ConversationID, recipientID, func(c *model.Conversation) bool {
		c.Messages = append(c.Messages, msg)
		refreshLast(c)
		return true
	})
	s.transmit(msg, 0)
	return msg, nil
}

func (s *Synchronizer) transmit(msg model.Message, attempt int) {
	err := s.conn.Send(protocol.SendMessage{ChatMessage: protocol.ChatMessage{
		TempID:         msg.TempID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		ConversationID: msg.ConversationID,
		Text:           msg.Text,
		MessageType:    msg.Type,
		Timestamp:      msg.Timestamp,
		ReplyToID:      msg.ReplyToID,
	}})
	if err == nil {
		return
	}

	attempt++
	delay, ok := s.opts.SendRetry.Delay(attempt)
	if !ok {
		logger.Warnf("chat: send %s failed after %d retries: %v", msg.TempID, attempt-1, err)
		s.setStatus(byTempID(msg.TempID), model.MessageStatusFailed, err.Error())
		return
	}
	if errors.Is(err, connection.ErrNotConnected) {
		if rerr := s.conn.Nudge(); rerr != nil {
			logger.Debugf("chat: reconnect request: %v", rerr)
		}
	}
	s.stopRetry(msg.TempID)
	s.retryTimers[msg.TempID] = s.sched.AfterFunc(delay, func() {
		delete(s.retryTimers, msg.TempID)
		cur, ok := s.State().Find(byTempID(msg.TempID))
		if !ok || cur.Status != model.MessageStatusSending {
			return
		}
		s.transmit(cur, attempt)
	})
}

// MarkMessageAsRead tells the sender that messageID was seen. Fire-and-forget.
func (s *Synchronizer) MarkMessageAsRead(messageID, senderID string) error {
	if messageID == "" {
		return ErrNoMessage
	}
	if err := s.conn.Send(protocol.MessageRead{MessageID: messageID, SenderID: senderID}); err != nil {
		logger.Debugf("chat: message_read %s: %v", messageID, err)
	}
	return nil
}

// OpenConversation makes the conversation with peerID the active view and clears its
// unread counter. It returns the conversation id.
func (s *Synchronizer) OpenConversation(peerID string) (string, error) {
	self := s.conn.Identity()
	if self == "" {
		return "", ErrNoIdentity
	}
	if peerID == "" {
		return "", ErrNoRecipient
	}
	id := model.ConversationID(self, peerID)
	s.active = id
	s.update(id, peerID, func(c *model.Conversation) bool {
		c.UnreadCount = 0
		return true
	})
	return id, nil
}

// CloseConversation leaves the active view and drops the conversation's loaded messages.
// The list entry with its last message stays.
func (s *Synchronizer) CloseConversation(conversationID string) {
	c, ok := s.convs[conversationID]
	if !ok {
		return
	}
	for _, m := range c.Messages {
		if m.TempID != "" {
			s.stopRetry(m.TempID)
		}
	}
	if s.active == conversationID {
		s.active = ""
	}
	c.Messages = nil
	s.convs[conversationID] = c
	s.publish()
}

// Close detaches from the connection and cancels pending retries.
func (s *Synchronizer) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for id := range s.retryTimers {
		s.stopRetry(id)
	}
}

func (s *Synchronizer) onEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.MessageSent:
		s.stopRetry(e.TempID)
		if s.mutate(byTempID(e.TempID), func(m *model.Message) bool {
			if !m.Status.CanAdvance(model.MessageStatusSent) {
				return false
			}
			m.ID = e.MessageID
			m.Status = model.MessageStatusSent
			return true
		}) {
			metrics.IncMessage(metrics.MessageSent)
		} else {
			logger.Debugf("chat: ack for unknown or settled %s", e.TempID)
		}
	case protocol.MessageError:
		s.stopRetry(e.TempID)
		s.setStatus(byTempID(e.TempID), model.MessageStatusFailed, e.Error)
	case protocol.ReceiveMessage:
		s.receive(e.ChatMessage)
	case protocol.MessageEdited:
		s.mutate(byID(e.MessageID), func(m *model.Message) bool {
			if m.Text == e.Text && m.IsEdited {
				return false
			}
			m.Text = e.Text
			m.IsEdited = true
			return true
		})
	case protocol.MessageDeleted:
		s.remove(e.MessageID)
	case protocol.MessageReadConfirmation:
		s.mutate(byID(e.MessageID), func(m *model.Message) bool {
			if !m.Status.CanAdvance(model.MessageStatusSeen) {
				return false
			}
			m.Status = model.MessageStatusSeen
			m.ReadAt = e.ReadAt
			return true
		})
	case protocol.MessageReactions:
		s.mutate(byID(e.MessageID), func(m *model.Message) bool {
			m.Reactions = cloneReactions(e.Reactions)
			return true
		})
	}
}

func (s *Synchronizer) receive(in protocol.ChatMessage) {
	self := s.conn.Identity()
	msg := model.Message{
		ID:             in.ID,
		TempID:         in.TempID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		ConversationID: model.ConversationID(in.SenderID, in.RecipientID),
		Text:           in.Text,
		Type:           in.MessageType,
		Timestamp:      in.Timestamp,
		Status:         model.MessageStatusDelivered,
		ReplyToID:      in.ReplyToID,
	}
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	inbound := msg.SenderID != self
	// A replayed message still proves the sender is online.
	if inbound && s.opts.Presence != nil {
		s.opts.Presence.ObservePeerActivity(msg.SenderID)
	}

	duplicate := false
	s.update(msg.ConversationID, msg.Peer(self), func(c *model.Conversation) bool {
		if c.Contains(&msg) {
			duplicate = true
			return false
		}
		c.Messages = append(c.Messages, msg)
		refreshLast(c)
		if inbound && s.active != c.ID {
			c.UnreadCount++
		}
		return true
	})
	if duplicate {
		metrics.IncMessage(metrics.MessageDuplicate)
		return
	}
	metrics.IncMessage(metrics.MessageReceived)
	if inbound {
		s.opts.Notifier.NotifyMessage(msg)
	}
}

func (s *Synchronizer) setStatus(pred func(*model.Message) bool, status model.MessageStatus, reason string) {
	if s.mutate(pred, func(m *model.Message) bool {
		if !m.Status.CanAdvance(status) {
			return false
		}
		m.Status = status
		m.Error = reason
		return true
	}) && status == model.MessageStatusFailed {
		metrics.IncMessage(metrics.MessageFailed)
	}
}

// mutate applies fn to the first message matching pred. fn reports whether it changed
// anything; only then is a new snapshot published.
func (s *Synchronizer) mutate(pred func(*model.Message) bool, fn func(*model.Message) bool) bool {
	for id, c := range s.convs {
		i := c.IndexOf(pred)
		if i < 0 {
			continue
		}
		next := clone(c)
		if !fn(&next.Messages[i]) {
			return false
		}
		refreshLast(&next)
		s.convs[id] = next
		s.publish()
		return true
	}
	return false
}

func (s *Synchronizer) remove(messageID string) {
	if messageID == "" {
		return
	}
	for id, c := range s.convs {
		i := c.IndexOf(byID(messageID))
		if i < 0 {
			continue
		}
		next := clone(c)
		next.Messages = append(next.Messages[:i], next.Messages[i+1:]...)
		if len(next.Messages) == 0 {
			next.LastMessage = nil
		} else {
			refreshLast(&next)
		}
		s.convs[id] = next
		s.publish()
		return
	}
}

// update runs fn on a private copy of the conversation (creating it if needed) and
// publishes when fn reports a change.
func (s *Synchronizer) update(conversationID, participant string, fn func(*model.Conversation) bool) {
	c, ok := s.convs[conversationID]
	if !ok {
		c = model.Conversation{ID: conversationID, Participant: participant}
	}
	next := clone(c)
	if !fn(&next) {
		return
	}
	s.convs[conversationID] = next
	s.publish()
}

func (s *Synchronizer) stopRetry(tempID string) {
	if t, ok := s.retryTimers[tempID]; ok {
		t.Stop()
		delete(s.retryTimers, tempID)
	}
}

func (s *Synchronizer) publish() {
	convs := make(map[string]model.Conversation, len(s.convs))
	for id, c := range s.convs {
		convs[id] = c
	}
	s.store.Publish(State{Conversations: convs, Active: s.active})
}

func byTempID(tempID string) func(*model.Message) bool {
	return func(m *model.Message) bool { return tempID != "" && m.TempID == tempID }
}

func byID(id string) func(*model.Message) bool {
	return func(m *model.Message) bool { return id != "" && m.ID == id }
}
