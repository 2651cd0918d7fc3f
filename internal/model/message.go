package model

import (
	"sort"
	"strings"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
)

// Valid reports whether t is one of the known content types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio:
		return true
	}
	return false
}

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusSeen      MessageStatus = "seen"
	MessageStatusFailed    MessageStatus = "failed"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSending:
		return 0
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusSeen:
		return 3
	}
	return -1
}

// CanAdvance reports whether a record in status s may move to next.
// Progress is monotonic over sending < sent < delivered < seen; failed is reachable
// only from sending or sent and is terminal.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	if next == MessageStatusFailed {
		return s == MessageStatusSending || s == MessageStatusSent
	}
	cur, nxt := s.rank(), next.rank()
	return nxt >= 0 && nxt > cur
}

// Message is one chat record. Before the server acknowledges it, a locally created
// message carries only TempID; afterwards it also carries the durable ID.
type Message struct {
	ID             string         `json:"id,omitempty"`
	TempID         string         `json:"tempId,omitempty"`
	SenderID       string         `json:"senderId"`
	RecipientID    string         `json:"recipientId"`
	ConversationID string         `json:"conversationId"`
	Text           string         `json:"text"`
	Type           MessageType    `json:"messageType"`
	Timestamp      int64          `json:"timestamp"` // unix ms
	Status         MessageStatus  `json:"status"`
	ReplyToID      string         `json:"replyToId,omitempty"`
	IsEdited       bool           `json:"isEdited"`
	Reactions      map[string]int `json:"reactions,omitempty"`
	ReadAt         int64          `json:"readAt,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Peer returns the other party of the message relative to self.
func (m *Message) Peer(self string) string {
	if m.SenderID == self {
		return m.RecipientID
	}
	return m.SenderID
}

// SameAs is the deduplication rule: two records describe the same message when they
// share a temp id, a durable id, or both the timestamp and the text.
func (m *Message) SameAs(o *Message) bool {
	if m.TempID != "" && m.TempID == o.TempID {
		return true
	}
	if m.ID != "" && m.ID == o.ID {
		return true
	}
	return m.Timestamp == o.Timestamp && m.Text == o.Text
}

const conversationIDSep = "_"

// conversationIDEscaper keeps the separator unambiguous when an id contains it.
var conversationIDEscaper = strings.NewReplacer(`\`, `\\`, conversationIDSep, `\`+conversationIDSep)

// ConversationID derives the key of the two-party conversation between a and b.
// It is order independent: ConversationID(a, b) == ConversationID(b, a).
// Separators inside ids are escaped, so distinct pairs never share a key.
func ConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return conversationIDEscaper.Replace(ids[0]) + conversationIDSep + conversationIDEscaper.Replace(ids[1])
}
