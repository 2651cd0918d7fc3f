package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rtchat/internal/model"
)

// The operations below call the REST collaborator on the caller's goroutine and must
// not be called on the event loop. Their effect on State is posted onto the loop.

// EditMessage asks the server to replace the text of messageID. The authoritative
// message_edited broadcast is applied idempotently on arrival; the returned record is
// merged right away so the author sees the edit without waiting for it.
func (s *Synchronizer) EditMessage(ctx context.Context, messageID, text string) error {
	if messageID == "" {
		return ErrNoMessage
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if s.opts.History == nil {
		return ErrNoHistoryAPI
	}
	updated, err := s.opts.History.EditMessage(ctx, messageID, text)
	if err != nil {
		return fmt.Errorf("chat.EditMessage: %w", err)
	}
	s.sched.Post(func() {
		s.mutate(byID(messageID), func(m *model.Message) bool {
			if m.Text == updated.Text && m.IsEdited {
				return false
			}
			m.Text = updated.Text
			m.IsEdited = true
			return true
		})
	})
	return nil
}

// DeleteMessage asks the server to delete messageID and drops it locally.
// Deleting an id that is already gone locally is not an error.
func (s *Synchronizer) DeleteMessage(ctx context.Context, messageID string) error {
	if messageID == "" {
		return ErrNoMessage
	}
	if s.opts.History == nil {
		return ErrNoHistoryAPI
	}
	if err := s.opts.History.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("chat.DeleteMessage: %w", err)
	}
	s.sched.Post(func() { s.remove(messageID) })
	return nil
}

// MarkConversationRead resets the unread counter of the conversation with peerID
// on the server and locally.
func (s *Synchronizer) MarkConversationRead(ctx context.Context, peerID string) error {
	if peerID == "" {
		return ErrNoRecipient
	}
	if s.opts.History == nil {
		return ErrNoHistoryAPI
	}
	if err := s.opts.History.MarkConversationRead(ctx, peerID); err != nil {
		return fmt.Errorf("chat.MarkConversationRead: %w", err)
	}
	s.sched.Post(func() {
		self := s.conn.Identity()
		if self == "" {
			return
		}
		id := model.ConversationID(self, peerID)
		if c, ok := s.convs[id]; !ok || c.UnreadCount == 0 {
			return
		}
		s.update(id, peerID, func(c *model.Conversation) bool {
			c.UnreadCount = 0
			return true
		})
	})
	return nil
}

// LoadHistory fetches the stored messages with peerID and merges them through the
// deduplication rule. Known records only ever move forward in status.
func (s *Synchronizer) LoadHistory(ctx context.Context, peerID string) error {
	if peerID == "" {
		return ErrNoRecipient
	}
	if s.opts.History == nil {
		return ErrNoHistoryAPI
	}
	msgs, err := s.opts.History.Messages(ctx, peerID)
	if err != nil {
		return fmt.Errorf("chat.LoadHistory: %w", err)
	}
	s.sched.Post(func() { s.mergeHistory(peerID, msgs) })
	return nil
}

// LoadConversations fetches the conversation list and merges summaries and unread counts.
func (s *Synchronizer) LoadConversations(ctx context.Context) error {
	if s.opts.History == nil {
		return ErrNoHistoryAPI
	}
	list, err := s.opts.History.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("chat.LoadConversations: %w", err)
	}
	s.sched.Post(func() { s.mergeConversations(list) })
	return nil
}

func (s *Synchronizer) mergeHistory(peerID string, msgs []model.Message) {
	self := s.conn.Identity()
	if self == "" {
		return
	}
	id := model.ConversationID(self, peerID)
	s.update(id, peerID, func(c *model.Conversation) bool {
		changed := false
		for _, in := range msgs {
			in.ConversationID = id
			if in.Type == "" {
				in.Type = model.MessageTypeText
			}
			if i := c.IndexOf(in.SameAs); i >= 0 {
				cur := &c.Messages[i]
				if cur.ID == "" && in.ID != "" {
					cur.ID = in.ID
					changed = true
				}
				if in.Status != "" && cur.Status.CanAdvance(in.Status) {
					cur.Status = in.Status
					cur.ReadAt = in.ReadAt
					changed = true
				}
				continue
			}
			if in.Status == "" {
				in.Status = model.MessageStatusDelivered
			}
			c.Messages = append(c.Messages, in)
			changed = true
		}
		if !changed {
			return false
		}
		sort.SliceStable(c.Messages, func(i, j int) bool {
			return c.Messages[i].Timestamp < c.Messages[j].Timestamp
		})
		refreshLast(c)
		return true
	})
}

func (s *Synchronizer) mergeConversations(list []model.Conversation) {
	self := s.conn.Identity()
	for _, in := range list {
		if in.Participant == "" {
			continue
		}
		id := in.ID
		if self != "" {
			id = model.ConversationID(self, in.Participant)
		}
		s.update(id, in.Participant, func(c *model.Conversation) bool {
			if s.active != c.ID {
				c.UnreadCount = in.UnreadCount
			}
			if in.LastMessage != nil && lastTimestamp(*c) <= in.LastMessage.Timestamp && len(c.Messages) == 0 {
				last := *in.LastMessage
				c.LastMessage = &last
			}
			return true
		})
	}
}
