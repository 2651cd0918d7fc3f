package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent = errors.New("protocol: unknown event")
	ErrMalformed    = errors.New("protocol: malformed envelope")
)

// Envelope is the wire frame of every event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type decoder func(json.RawMessage) (Event, error)

var decoders = map[string]decoder{}

func register[T Event]() {
	var zero T
	decoders[zero.Name()] = func(raw json.RawMessage) (Event, error) {
		var v T
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

func init() {
	register[Join]()
	register[AuthError]()
	register[SendMessage]()
	register[ReceiveMessage]()
	register[MessageSent]()
	register[MessageError]()
	register[MessageRead]()
	register[MessageReadConfirmation]()
	register[MessageDeleted]()
	register[MessageEdited]()
	register[MessageReactions]()
	register[TypingStart]()
	register[TypingStop]()
	register[UserTyping]()
	register[GetOnlineUsers]()
	register[OnlineUsersList]()
	register[UserOnline]()
	register[UserOffline]()
	register[CallUser]()
	register[CallMade]()
	register[AnswerCall]()
	register[CallAnswered]()
	register[IceCandidate]()
	register[EndCall]()
	register[CallEnded]()
	register[CallFailed]()
}

// Encode wraps ev in its envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol.Encode %s: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Event: ev.Name(), Data: data})
}

// Decode parses one envelope into its concrete event.
func Decode(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dec, ok := decoders[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	ev, err := dec(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return ev, nil
}

// Names lists every registered event name.
func Names() []string {
	out := make([]string, 0, len(decoders))
	for name := range decoders {
		out = append(out, name)
	}
	return out
}
