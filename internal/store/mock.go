package store

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockRepository) GetRoomByCode(code string) (Room, error) {
	args := m.Called(code)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockRepository) RoomCodeExists(code string) bool {
	args := m.Called(code)
	return args.Bool(0)
}

func (m *MockRepository) ListRoomsForUser(userId int) ([]Room, error) {
	args := m.Called(userId)
	return args.Get(0).([]Room), args.Error(1)
}

func (m *MockRepository) GetParticipant(roomId, userId int) (Participant, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Participant), args.Error(1)
}

func (m *MockRepository) ListParticipants(roomId int) ([]Participant, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Participant), args.Error(1)
}

func (m *MockRepository) JoinRoom(roomId, userId int) (Participant, error) {
	args := m.Called(roomId, userId)
	return args.Get(0).(Participant), args.Error(1)
}

func (m *MockRepository) LeaveRoom(roomId, userId int) (int, error) {
	args := m.Called(roomId, userId)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) AppendMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockRepository) GetMessage(id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockRepository) ListMessages(roomId, beforeSeq, limit int) ([]Message, error) {
	args := m.Called(roomId, beforeSeq, limit)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockRepository) EditMessage(id, senderId int, content string) (Message, error) {
	args := m.Called(id, senderId, content)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
