package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/metrics"
	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
	"github.com/rtchat/internal/repository"
	"github.com/rtchat/internal/storage"
)

const storeTimeout = 5 * time.Second

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	sockets  map[string]*Client
	latest   map[string]*Client
	total    int
	maxConns int

	store    repository.MessageStore
	presence storage.PresenceRegistry
	calls    *callRegistry
	now      func() time.Time

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(store repository.MessageStore, presence storage.PresenceRegistry, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		sockets:    make(map[string]*Client),
		latest:     make(map[string]*Client),
		maxConns:   maxConns,
		store:      store,
		presence:   presence,
		calls:      newCallRegistry(),
		now:        time.Now,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.sockets = make(map[string]*Client)
	h.latest = make(map[string]*Client)
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
		metrics.DecWSActive()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	first := false
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
		first = true
	}
	h.clients[c.userID][c] = struct{}{}
	h.sockets[c.socketID] = c
	h.latest[c.userID] = c
	h.total++
	h.mu.Unlock()
	metrics.IncWSActive()
	logger.Infof("ws connected user=%s socket=%s", c.userID, c.socketID)

	if !first {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.presence.SetOnline(ctx, c.userID); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	h.broadcastExcept(c.userID, protocol.UserOnline{UserID: c.userID})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	delete(h.sockets, c.socketID)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
		delete(h.latest, c.userID)
	} else if h.latest[c.userID] == c {
		h.latest[c.userID] = newestOf(clients)
	}
	h.mu.Unlock()
	metrics.DecWSActive()
	logger.Infof("ws disconnected user=%s socket=%s", c.userID, c.socketID)

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := h.presence.SetOffline(ctx, c.userID); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.endCallsOf(c.userID)
		h.broadcastExcept(c.userID, protocol.UserOffline{UserID: c.userID})
	}
}

func newestOf(clients map[*Client]struct{}) *Client {
	var out *Client
	for c := range clients {
		if out == nil || c.joinedAt.After(out.joinedAt) {
			out = c
		}
	}
	return out
}

// HandleEvent dispatches one event received from c.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev protocol.Event) {
	metrics.IncWSEvent(ev.Name())
	switch e := ev.(type) {
	case protocol.Join:
		h.handleJoin(c, e)
	case protocol.SendMessage:
		h.handleSendMessage(ctx, c, e)
	case protocol.TypingStart:
		h.handleTyping(c, e.ReceiverID, true)
	case protocol.TypingStop:
		h.handleTyping(c, e.ReceiverID, false)
	case protocol.GetOnlineUsers:
		h.handleGetOnlineUsers(ctx, c)
	case protocol.MessageRead:
		h.handleMessageRead(ctx, c, e)
	case protocol.CallUser, protocol.AnswerCall, protocol.IceCandidate, protocol.EndCall:
		h.handleSignal(c, ev)
	default:
		logger.Debugf("ws unexpected event %s from user=%s", ev.Name(), c.userID)
	}
}

func (h *Hub) handleJoin(c *Client, e protocol.Join) {
	if e.UserID != "" && e.UserID != c.userID {
		logger.Errorf("ws join identity mismatch user=%s claimed=%s", c.userID, e.UserID)
		h.sendToClient(c, protocol.AuthError{Reason: "identity mismatch"})
		c.Close()
		return
	}
	logger.Debugf("ws join user=%s socket=%s", c.userID, c.socketID)
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, e protocol.SendMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if e.RecipientID == "" || strings.TrimSpace(e.Text) == "" {
		h.sendToClient(c, protocol.MessageError{TempID: e.TempID, Error: "recipientId and text required"})
		return
	}
	typ := e.MessageType
	if typ == "" {
		typ = model.MessageTypeText
	}
	if !typ.Valid() {
		h.sendToClient(c, protocol.MessageError{TempID: e.TempID, Error: "unknown message type"})
		return
	}
	ts := e.Timestamp
	if ts <= 0 {
		ts = h.now().UnixMilli()
	}

	m := &model.Message{
		ID:             uuid.NewString(),
		SenderID:       c.userID,
		RecipientID:    e.RecipientID,
		ConversationID: model.ConversationID(c.userID, e.RecipientID),
		Text:           e.Text,
		Type:           typ,
		Timestamp:      ts,
		ReplyToID:      e.ReplyToID,
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := h.store.Create(ctx, m); err != nil {
		logger.Errorf("ws save message from=%s to=%s: %v", c.userID, e.RecipientID, err)
		h.sendToClient(c, protocol.MessageError{TempID: e.TempID, Error: "failed to save message"})
		return
	}

	h.sendToClient(c, protocol.MessageSent{TempID: e.TempID, MessageID: m.ID, Timestamp: m.Timestamp})
	h.SendToUser(e.RecipientID, protocol.ReceiveMessage{ChatMessage: protocol.ChatMessage{
		ID:             m.ID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		ConversationID: m.ConversationID,
		Text:           m.Text,
		MessageType:    m.Type,
		Timestamp:      m.Timestamp,
		ReplyToID:      m.ReplyToID,
	}})
}

func (h *Hub) handleTyping(c *Client, receiverID string, typing bool) {
	if receiverID == "" || receiverID == c.userID {
		return
	}
	h.SendToUser(receiverID, protocol.UserTyping{UserID: c.userID, IsTyping: typing})
}

func (h *Hub) handleGetOnlineUsers(ctx context.Context, c *Client) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	users, err := h.presence.Online(ctx)
	if err != nil {
		logger.Errorf("ws online users: %v", err)
		return
	}
	if users == nil {
		users = []string{}
	}
	h.sendToClient(c, protocol.OnlineUsersList{Users: users})
}

func (h *Hub) handleMessageRead(ctx context.Context, c *Client, e protocol.MessageRead) {
	if e.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	m, err := h.store.GetByID(ctx, e.MessageID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Errorf("ws read receipt message=%s: %v", e.MessageID, err)
		return
	}
	// Only the recipient can mark a message read.
	if m.RecipientID != c.userID {
		return
	}
	readAt := h.now().UnixMilli()
	if err := h.store.MarkRead(ctx, m.ID, readAt); err != nil {
		logger.Errorf("ws mark read message=%s: %v", m.ID, err)
		return
	}
	h.SendToUser(m.SenderID, protocol.MessageReadConfirmation{MessageID: m.ID, ReadAt: readAt})
}

func (h *Hub) broadcastExcept(userID string, ev protocol.Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for uid, clients := range h.clients {
		if uid == userID {
			continue
		}
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.sendAll(targets, ev)
}

// SendToUser delivers ev to every connection of userID. Offline users are skipped.
func (h *Hub) SendToUser(userID string, ev protocol.Event) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.sendAll(targets, ev)
}

// IsOnline reports whether userID has a connection to this relay.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) sendAll(targets []*Client, ev protocol.Event) {
	if len(targets) == 0 {
		return
	}
	data, err := protocol.Encode(ev)
	if err != nil {
		logger.Errorf("ws encode %s: %v", ev.Name(), err)
		return
	}
	for _, c := range targets {
		h.push(c, data)
	}
}

func (h *Hub) sendToClient(c *Client, ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		logger.Errorf("ws encode %s: %v", ev.Name(), err)
		return
	}
	h.push(c, data)
}

func (h *Hub) push(c *Client, data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
