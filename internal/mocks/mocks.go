// Package mocks holds testify mocks of the core's external collaborators.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/rtchat/internal/model"
	"github.com/rtchat/internal/protocol"
)

type HistoryMock struct {
	mock.Mock
}

func (m *HistoryMock) Conversations(ctx context.Context) ([]model.Conversation, error) {
	args := m.Called(ctx)
	var list []model.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]model.Conversation)
	}
	return list, args.Error(1)
}

func (m *HistoryMock) Messages(ctx context.Context, peerID string) ([]model.Message, error) {
	args := m.Called(ctx, peerID)
	var list []model.Message
	if val := args.Get(0); val != nil {
		list = val.([]model.Message)
	}
	return list, args.Error(1)
}

func (m *HistoryMock) EditMessage(ctx context.Context, messageID, text string) (*model.Message, error) {
	args := m.Called(ctx, messageID, text)
	var msg *model.Message
	if val := args.Get(0); val != nil {
		msg = val.(*model.Message)
	}
	return msg, args.Error(1)
}

func (m *HistoryMock) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *HistoryMock) MarkConversationRead(ctx context.Context, peerID string) error {
	args := m.Called(ctx, peerID)
	return args.Error(0)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyMessage(msg model.Message) {
	m.Called(msg)
}

type PresenceMock struct {
	mock.Mock
}

func (m *PresenceMock) ObservePeerActivity(userID string) {
	m.Called(userID)
}

type AlertSinkMock struct {
	mock.Mock
}

func (m *AlertSinkMock) Ring(peerID string, callType model.CallType) {
	m.Called(peerID, callType)
}

func (m *AlertSinkMock) StopRinging() {
	m.Called()
}

// EventSinkMock records relay-side deliveries to a user.
type EventSinkMock struct {
	mock.Mock
}

func (m *EventSinkMock) SendToUser(userID string, ev protocol.Event) {
	m.Called(userID, ev)
}
