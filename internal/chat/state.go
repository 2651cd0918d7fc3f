package chat

import (
	"sort"

	"github.com/rtchat/internal/model"
)

// State is an immutable snapshot of every known conversation. Message slices and
// reaction maps are never modified after publication.
type State struct {
	Conversations map[string]model.Conversation
	Active        string
}

// Conversation returns the conversation with id.
func (s State) Conversation(id string) (model.Conversation, bool) {
	c, ok := s.Conversations[id]
	return c, ok
}

// Sorted returns conversations by most recent activity first.
func (s State) Sorted() []model.Conversation {
	out := make([]model.Conversation, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := lastTimestamp(out[i]), lastTimestamp(out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TotalUnread sums unread counters across conversations.
func (s State) TotalUnread() int {
	n := 0
	for _, c := range s.Conversations {
		n += c.UnreadCount
	}
	return n
}

// Find locates a message by predicate across all conversations.
func (s State) Find(pred func(*model.Message) bool) (model.Message, bool) {
	for _, c := range s.Conversations {
		if i := c.IndexOf(pred); i >= 0 {
			return c.Messages[i], true
		}
	}
	return model.Message{}, false
}

func lastTimestamp(c model.Conversation) int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.Timestamp
}

// clone returns a copy of c whose Messages slice can be modified freely.
func clone(c model.Conversation) model.Conversation {
	msgs := make([]model.Message, len(c.Messages), len(c.Messages)+1)
	copy(msgs, c.Messages)
	c.Messages = msgs
	return c
}

// refreshLast points LastMessage at the newest stored message, keeping the summary
// from the conversation list when no messages are loaded.
func refreshLast(c *model.Conversation) {
	if len(c.Messages) == 0 {
		return
	}
	last := c.Messages[len(c.Messages)-1]
	c.LastMessage = &last
}

func cloneReactions(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
