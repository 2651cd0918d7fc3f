// Package protocol is the closed set of events exchanged over the realtime session.
//
// Every event is its own struct implementing Event; the set is sealed by an unexported
// method, so a type switch over Event covers the whole protocol. On the wire each event is
// wrapped in an envelope {"event": name, "data": payload}.
package protocol

import "github.com/rtchat/internal/model"

// Event is one protocol message. Only types in this package implement it.
type Event interface {
	Name() string
	sealed()
}

const (
	NameJoin                    = "join"
	NameAuthError               = "auth_error"
	NameSendMessage             = "send_message"
	NameReceiveMessage          = "receive_message"
	NameMessageSent             = "message_sent"
	NameMessageError            = "message_error"
	NameTypingStart             = "typing_start"
	NameTypingStop              = "typing_stop"
	NameUserTyping              = "user_typing"
	NameGetOnlineUsers          = "get_online_users"
	NameOnlineUsersList         = "online_users_list"
	NameUserOnline              = "user_online"
	NameUserOffline             = "user_offline"
	NameMessageRead             = "message_read"
	NameMessageReadConfirmation = "message_read_confirmation"
	NameMessageDeleted          = "message_deleted"
	NameMessageEdited           = "message_edited"
	NameMessageReactions        = "message_reactions"
	NameCallUser                = "call-user"
	NameCallMade                = "call-made"
	NameAnswerCall              = "answer-call"
	NameCallAnswered            = "call-answered"
	NameIceCandidate            = "ice-candidate"
	NameEndCall                 = "end-call"
	NameCallEnded               = "call-ended"
	NameCallFailed              = "call-failed"
)

// --- session ---

// Join binds the session to the identity's room. Client -> server.
type Join struct {
	UserID string `json:"userId"`
}

// AuthError rejects the session's identity. Server -> client.
type AuthError struct {
	Reason string `json:"reason"`
}

// --- chat ---

// ChatMessage is the chat payload shared by send_message and receive_message.
type ChatMessage struct {
	ID             string            `json:"id,omitempty"`
	TempID         string            `json:"tempId,omitempty"`
	SenderID       string            `json:"senderId"`
	RecipientID    string            `json:"recipientId"`
	ConversationID string            `json:"conversationId,omitempty"`
	Text           string            `json:"text"`
	MessageType    model.MessageType `json:"messageType"`
	Timestamp      int64             `json:"timestamp"`
	ReplyToID      string            `json:"replyToId,omitempty"`
}

type SendMessage struct {
	ChatMessage
}

type ReceiveMessage struct {
	ChatMessage
}

// MessageSent acknowledges a SendMessage by its temp id.
type MessageSent struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type MessageError struct {
	TempID string `json:"tempId"`
	Error  string `json:"error"`
}

type MessageRead struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

type MessageReadConfirmation struct {
	MessageID string `json:"messageId"`
	ReadAt    int64  `json:"readAt"`
}

type MessageDeleted struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type MessageEdited struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	IsEdited       bool   `json:"isEdited"`
}

// MessageReactions carries the full reaction counts of one message.
type MessageReactions struct {
	MessageID      string         `json:"messageId"`
	ConversationID string         `json:"conversationId"`
	Reactions      map[string]int `json:"reactions"`
}

// --- presence ---

type TypingStart struct {
	ReceiverID string `json:"receiverId"`
}

type TypingStop struct {
	ReceiverID string `json:"receiverId"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type GetOnlineUsers struct{}

type OnlineUsersList struct {
	Users []string `json:"users"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID string `json:"userId"`
}

// --- call signaling ---

type CallUser struct {
	UserToCall string                   `json:"userToCall"`
	Offer      model.SessionDescription `json:"offer"`
	CallType   model.CallType           `json:"callType"`
}

// CallMade delivers an offer to the callee; Socket is the caller's session id.
type CallMade struct {
	Offer    model.SessionDescription `json:"offer"`
	From     string                   `json:"from"`
	Socket   string                   `json:"socket"`
	CallType model.CallType           `json:"callType"`
}

type AnswerCall struct {
	To     string                   `json:"to"`
	Answer model.SessionDescription `json:"answer"`
}

// CallAnswered delivers the answer to the caller; Socket is the callee's session id.
type CallAnswered struct {
	Answer model.SessionDescription `json:"answer"`
	Socket string                   `json:"socket"`
	From   string                   `json:"from,omitempty"`
}

// IceCandidate travels both ways. Outbound it is addressed by To (and SocketID once known);
// inbound the relay fills From.
type IceCandidate struct {
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	SocketID  string          `json:"socketId,omitempty"`
	Candidate model.Candidate `json:"candidate"`
}

type EndCall struct {
	To       string `json:"to"`
	SocketID string `json:"socketId,omitempty"`
}

type CallEnded struct {
	From string `json:"from,omitempty"`
}

type CallFailed struct {
	Reason string `json:"reason"`
}

func (Join) Name() string                    { return NameJoin }
func (AuthError) Name() string               { return NameAuthError }
func (SendMessage) Name() string             { return NameSendMessage }
func (ReceiveMessage) Name() string          { return NameReceiveMessage }
func (MessageSent) Name() string             { return NameMessageSent }
func (MessageError) Name() string            { return NameMessageError }
func (MessageRead) Name() string             { return NameMessageRead }
func (MessageReadConfirmation) Name() string { return NameMessageReadConfirmation }
func (MessageDeleted) Name() string          { return NameMessageDeleted }
func (MessageEdited) Name() string           { return NameMessageEdited }
func (MessageReactions) Name() string        { return NameMessageReactions }
func (TypingStart) Name() string             { return NameTypingStart }
func (TypingStop) Name() string              { return NameTypingStop }
func (UserTyping) Name() string              { return NameUserTyping }
func (GetOnlineUsers) Name() string          { return NameGetOnlineUsers }
func (OnlineUsersList) Name() string         { return NameOnlineUsersList }
func (UserOnline) Name() string              { return NameUserOnline }
func (UserOffline) Name() string             { return NameUserOffline }
func (CallUser) Name() string                { return NameCallUser }
func (CallMade) Name() string                { return NameCallMade }
func (AnswerCall) Name() string              { return NameAnswerCall }
func (CallAnswered) Name() string            { return NameCallAnswered }
func (IceCandidate) Name() string            { return NameIceCandidate }
func (EndCall) Name() string                 { return NameEndCall }
func (CallEnded) Name() string               { return NameCallEnded }
func (CallFailed) Name() string              { return NameCallFailed }

func (Join) sealed()                    {}
func (AuthError) sealed()               {}
func (SendMessage) sealed()             {}
func (ReceiveMessage) sealed()          {}
func (MessageSent) sealed()             {}
func (MessageError) sealed()            {}
func (MessageRead) sealed()             {}
func (MessageReadConfirmation) sealed() {}
func (MessageDeleted) sealed()          {}
func (MessageEdited) sealed()           {}
func (MessageReactions) sealed()        {}
func (TypingStart) sealed()             {}
func (TypingStop) sealed()              {}
func (UserTyping) sealed()              {}
func (GetOnlineUsers) sealed()          {}
func (OnlineUsersList) sealed()         {}
func (UserOnline) sealed()              {}
func (UserOffline) sealed()             {}
func (CallUser) sealed()                {}
func (CallMade) sealed()                {}
func (AnswerCall) sealed()              {}
func (CallAnswered) sealed()            {}
func (IceCandidate) sealed()            {}
func (EndCall) sealed()                 {}
func (CallEnded) sealed()               {}
func (CallFailed) sealed()              {}
