package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationIDCommutative(t *testing.T) {
	ids := []string{"", "a", "b", "alice", "bob", "42", "user_1", "Zed"}
	for _, a := range ids {
		for _, b := range ids {
			assert.Equal(t, ConversationID(a, b), ConversationID(b, a), "pair %q %q", a, b)
		}
	}
	assert.Equal(t, "alice_bob", ConversationID("bob", "alice"))
}

func TestConversationIDSeparatorInIDs(t *testing.T) {
	assert.NotEqual(t, ConversationID("a_b", "c"), ConversationID("a", "b_c"))
	assert.NotEqual(t, ConversationID(`a\`, "b"), ConversationID("a", `\b`))
	assert.NotEqual(t, ConversationID(`a\`, "_b"), ConversationID(`a\_`, "b"))

	ids := []string{"", "a", "b", "_", "a_", "_a", "a_b", "b_c", "c", `\`, `a\`, `\_`, `a\_b`, "user_1"}
	seen := map[string][2]string{}
	for i, a := range ids {
		for _, b := range ids[i:] {
			key := ConversationID(a, b)
			if prev, ok := seen[key]; ok {
				t.Errorf("pairs %q and %q share key %q", prev, [2]string{a, b}, key)
			}
			seen[key] = [2]string{a, b}
		}
	}
	assert.Equal(t, `user\_1_zed`, ConversationID("zed", "user_1"))
}

func TestStatusCanAdvance(t *testing.T) {
	all := []MessageStatus{MessageStatusSending, MessageStatusSent, MessageStatusDelivered, MessageStatusSeen, MessageStatusFailed}
	allowed := map[string]bool{
		"sending->sent":      true,
		"sending->delivered": true,
		"sending->seen":      true,
		"sending->failed":    true,
		"sent->delivered":    true,
		"sent->seen":         true,
		"sent->failed":       true,
		"delivered->seen":    true,
	}
	for _, from := range all {
		for _, to := range all {
			key := fmt.Sprintf("%s->%s", from, to)
			assert.Equal(t, allowed[key], from.CanAdvance(to), key)
		}
	}
}

func TestMessageSameAs(t *testing.T) {
	base := Message{TempID: "t1", ID: "42", Timestamp: 100, Text: "yo"}

	assert.True(t, base.SameAs(&Message{TempID: "t1"}))
	assert.True(t, base.SameAs(&Message{ID: "42", Timestamp: 1}))
	assert.True(t, base.SameAs(&Message{Timestamp: 100, Text: "yo"}))
	assert.False(t, base.SameAs(&Message{Timestamp: 100, Text: "hey"}))
	assert.False(t, base.SameAs(&Message{Timestamp: 101, Text: "yo"}))

	fresh := Message{Timestamp: 5, Text: "x"}
	assert.False(t, fresh.SameAs(&Message{Timestamp: 6, Text: "x"}), "empty ids never match each other")
}

func TestMessagePeer(t *testing.T) {
	m := Message{SenderID: "alice", RecipientID: "bob"}
	assert.Equal(t, "bob", m.Peer("alice"))
	assert.Equal(t, "alice", m.Peer("bob"))
}
