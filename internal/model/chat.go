package model

// Conversation is the local view of a two-party chat.
type Conversation struct {
	ID          string    `json:"id"`
	Participant string    `json:"participant"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	Messages    []Message `json:"-"`
}

// IndexOf returns the position of the first message matching pred, or -1.
func (c *Conversation) IndexOf(pred func(*Message) bool) int {
	for i := range c.Messages {
		if pred(&c.Messages[i]) {
			return i
		}
	}
	return -1
}

// Contains applies the deduplication rule against every stored message.
func (c *Conversation) Contains(m *Message) bool {
	return c.IndexOf(m.SameAs) >= 0
}
