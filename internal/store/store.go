package store

import "errors"

var (
	// ErrNotFound indicates the requested room, participant or message
	// does not exist (or is not visible to the caller).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyMember indicates the user already has an active
	// participant row for the room.
	ErrAlreadyMember = errors.New("already a member")
	// ErrRoomFull indicates the room reached max_participants.
	ErrRoomFull = errors.New("room is full")
	// ErrNotSender indicates a message edit by someone other than the
	// original sender.
	ErrNotSender = errors.New("not the message sender")
)

type Repository interface {
	GetAccountById(accountId int) (Account, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	GetRoomByCode(code string) (Room, error)
	RoomCodeExists(code string) bool
	ListRoomsForUser(userId int) ([]Room, error)
	GetParticipant(roomId, userId int) (Participant, error)
	ListParticipants(roomId int) ([]Participant, error)
	JoinRoom(roomId, userId int) (Participant, error)
	LeaveRoom(roomId, userId int) (promotedUserId int, err error)
	AppendMessage(msg Message) (Message, error)
	GetMessage(id int) (Message, error)
	ListMessages(roomId, beforeSeq, limit int) ([]Message, error)
	EditMessage(id, senderId int, content string) (Message, error)
	Close() error
}
