package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/protocol"
)

const (
	callRinging = "ringing"
	callActive  = "active"
)

// callState is one relayed call. The relay never inspects SDP; it only tracks who talks
// to whom so a dropped party can be hung up on the other side.
type callState struct {
	ID        string
	FromUser  string
	ToUser    string
	Status    string
	CreatedAt time.Time
}

func (s *callState) other(userID string) string {
	if s.FromUser == userID {
		return s.ToUser
	}
	return s.FromUser
}

type callRegistry struct {
	mu    sync.Mutex
	calls map[string]*callState
}

func newCallRegistry() *callRegistry {
	return &callRegistry{calls: make(map[string]*callState)}
}

func (r *callRegistry) find(a, b string) *callState {
	for _, call := range r.calls {
		if (call.FromUser == a && call.ToUser == b) || (call.FromUser == b && call.ToUser == a) {
			return call
		}
	}
	return nil
}

func (r *callRegistry) start(from, to string) *callState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if call := r.find(from, to); call != nil {
		delete(r.calls, call.ID)
	}
	call := &callState{ID: uuid.NewString(), FromUser: from, ToUser: to, Status: callRinging, CreatedAt: time.Now()}
	r.calls[call.ID] = call
	return call
}

func (r *callRegistry) activate(a, b string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if call := r.find(a, b); call != nil {
		call.Status = callActive
	}
}

func (r *callRegistry) end(a, b string) *callState {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.find(a, b)
	if call != nil {
		delete(r.calls, call.ID)
	}
	return call
}

// drop removes every call userID takes part in and returns them.
func (r *callRegistry) drop(userID string) []*callState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*callState
	for id, call := range r.calls {
		if call.FromUser == userID || call.ToUser == userID {
			out = append(out, call)
			delete(r.calls, id)
		}
	}
	return out
}

func (r *callRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// handleSignal forwards WebRTC signaling between the two parties of a call.
func (h *Hub) handleSignal(c *Client, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.CallUser:
		if e.UserToCall == "" {
			h.sendToClient(c, protocol.CallFailed{Reason: "userToCall required"})
			return
		}
		if e.UserToCall == c.userID {
			h.sendToClient(c, protocol.CallFailed{Reason: "cannot call yourself"})
			return
		}
		peer := h.resolve(e.UserToCall)
		if peer == nil {
			h.sendToClient(c, protocol.CallFailed{Reason: "user offline"})
			return
		}
		call := h.calls.start(c.userID, e.UserToCall)
		h.sendToClient(peer, protocol.CallMade{
			Offer:    e.Offer,
			From:     c.userID,
			Socket:   c.socketID,
			CallType: e.CallType,
		})
		logger.Infof("call started call_id=%s from=%s to=%s type=%s", call.ID, c.userID, e.UserToCall, e.CallType)

	case protocol.AnswerCall:
		peer := h.resolve(e.To)
		if peer == nil {
			logger.Debugf("call answer to unknown target=%s from=%s", e.To, c.userID)
			return
		}
		h.calls.activate(c.userID, peer.userID)
		h.sendToClient(peer, protocol.CallAnswered{Answer: e.Answer, Socket: c.socketID, From: c.userID})
		logger.Infof("call accepted from=%s by=%s", peer.userID, c.userID)

	case protocol.IceCandidate:
		peer := h.resolve(e.SocketID, e.To)
		if peer == nil {
			return
		}
		h.sendToClient(peer, protocol.IceCandidate{From: c.userID, SocketID: c.socketID, Candidate: e.Candidate})

	case protocol.EndCall:
		peer := h.resolve(e.SocketID, e.To)
		other := e.To
		if peer != nil {
			other = peer.userID
		}
		if call := h.calls.end(c.userID, other); call != nil {
			logger.Infof("call hangup call_id=%s by=%s", call.ID, c.userID)
		}
		if peer != nil {
			h.sendToClient(peer, protocol.CallEnded{From: c.userID})
		}
	}
}

// endCallsOf hangs up every call of a user whose last connection went away.
func (h *Hub) endCallsOf(userID string) {
	for _, call := range h.calls.drop(userID) {
		logger.Infof("call dropped call_id=%s user=%s", call.ID, userID)
		h.SendToUser(call.other(userID), protocol.CallEnded{From: userID})
	}
}

// resolve picks the connection addressed by the first non-empty id. An id is tried as a
// socket id first and then as a user id, in which case the user's newest connection wins.
func (h *Hub) resolve(ids ...string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if c, ok := h.sockets[id]; ok {
			return c
		}
		if c, ok := h.latest[id]; ok {
			return c
		}
	}
	return nil
}
