package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/rtchat/internal/model"
)

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*model.Message
	// order is insertion order; timestamps from clients are not trusted to be unique.
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*model.Message)}
}

func (s *MemoryStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.TempID = ""
	s.byID[m.ID] = &cp
	s.order = append(s.order, m.ID)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := withStatus(*m)
	return &out, nil
}

func (s *MemoryStore) Between(_ context.Context, a, b string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := model.ConversationID(a, b)
	var out []model.Message
	for _, id := range s.order {
		m, ok := s.byID[id]
		if !ok || m.ConversationID != conv {
			continue
		}
		out = append(out, withStatus(*m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) Conversations(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	convs := make(map[string]*model.Conversation)
	for _, id := range s.order {
		m, ok := s.byID[id]
		if !ok || (m.SenderID != userID && m.RecipientID != userID) {
			continue
		}
		c, ok := convs[m.ConversationID]
		if !ok {
			c = &model.Conversation{ID: m.ConversationID, Participant: m.Peer(userID)}
			convs[m.ConversationID] = c
		}
		if c.LastMessage == nil || c.LastMessage.Timestamp <= m.Timestamp {
			last := withStatus(*m)
			c.LastMessage = &last
		}
		if m.RecipientID == userID && m.ReadAt == 0 {
			c.UnreadCount++
		}
	}
	out := make([]model.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateText(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.Text = text
	m.IsEdited = true
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id string, readAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[id]; ok && m.ReadAt == 0 {
		m.ReadAt = readAt
	}
	return nil
}

func (s *MemoryStore) MarkConversationRead(_ context.Context, userID, peerID string, readAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byID {
		if m.RecipientID == userID && m.SenderID == peerID && m.ReadAt == 0 {
			m.ReadAt = readAt
		}
	}
	return nil
}

func withStatus(m model.Message) model.Message {
	m.Status = model.MessageStatusDelivered
	if m.ReadAt > 0 {
		m.Status = model.MessageStatusSeen
	}
	return m
}
