package chat

import (
	"time"

	"github.com/teamsync/chatserver/internal/types"
)

// Error codes carried on the error event. AuthenticationError is only ever
// produced at handshake, before a ClientEvent is read.
const (
	CodeAuthenticationError = "authentication_error"
	CodeAccessDenied        = "access_denied"
	CodeAlreadyMember       = "already_member"
	CodeValidationError     = "validation_error"
	CodeInvalidState        = "invalid_state"
	CodeNotFound            = "not_found"
	CodeInternalError       = "internal_error"
	CodeServiceUnavailable  = "service_unavailable"
)

type BaseEvent struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientEvent is the inbound protocol surface. Exactly one variant field is
// set per event; anything else is a validation error.
type ClientEvent struct {
	BaseEvent
	JoinRoom    *JoinRoom    `json:"join_room,omitempty"`
	LeaveRoom   *LeaveRoom   `json:"leave_room,omitempty"`
	SendMessage *SendMessage `json:"send_message,omitempty"`
	TypingStart *Typing      `json:"typing_start,omitempty"`
	TypingStop  *Typing      `json:"typing_stop,omitempty"`

	UserId int     `json:"-"`
	client *Client `json:"-"`
}

// GetUserId returns the authenticated user behind the event, falling back to
// the originating connection for server-initiated events.
func (ev *ClientEvent) GetUserId() int {
	if ev.UserId != 0 {
		return ev.UserId
	}

	if ev.client != nil {
		return ev.client.user.Id
	}

	return 0
}

type JoinRoom struct {
	RoomId string `json:"room_id"`
}

type LeaveRoom struct {
	RoomId string `json:"room_id"`
}

type SendMessage struct {
	RoomId      string `json:"room_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	ReplyTo     *int   `json:"reply_to,omitempty"`
}

type Typing struct {
	RoomId string `json:"room_id"`
}

// ServerEvent is the outbound protocol surface; exactly one variant field is
// set per event.
type ServerEvent struct {
	BaseEvent
	JoinedRoom *JoinedRoom   `json:"joined_room,omitempty"`
	LeftRoom   *LeftRoom     `json:"left_room,omitempty"`
	UserJoined *UserPresence `json:"user_joined,omitempty"`
	UserLeft   *UserPresence `json:"user_left,omitempty"`
	NewMessage *NewMessage   `json:"new_message,omitempty"`
	UserTyping *UserTyping   `json:"user_typing,omitempty"`
	Error      *ErrorEvent   `json:"error,omitempty"`

	skipClient *Client
}

type JoinedRoom struct {
	RoomId string     `json:"room_id"`
	Room   types.Room `json:"room"`
}

type LeftRoom struct {
	RoomId string `json:"room_id"`
}

type UserPresence struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username,omitempty"`
	RoomId   string `json:"room_id"`
}

type NewMessage struct {
	RoomId  string        `json:"room_id"`
	Message types.Message `json:"message"`
}

type UserTyping struct {
	UserId   int    `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
	RoomId   string `json:"room_id"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func errEvent(id int, code, message string) *ServerEvent {
	return &ServerEvent{
		BaseEvent: BaseEvent{
			Id:        id,
			Timestamp: Now(),
		},
		Error: &ErrorEvent{
			Code:    code,
			Message: message,
		},
	}
}

func ErrRoomNotFound(id int) *ServerEvent {
	return errEvent(id, CodeNotFound, "room not found")
}

func ErrAccessDenied(id int) *ServerEvent {
	return errEvent(id, CodeAccessDenied, "not an active participant of this room")
}

func ErrInvalidState(id int) *ServerEvent {
	return errEvent(id, CodeInvalidState, "operation not allowed in current session state")
}

func ErrValidation(id int, message string) *ServerEvent {
	return errEvent(id, CodeValidationError, message)
}

func ErrInternalError(id int) *ServerEvent {
	return errEvent(id, CodeInternalError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerEvent {
	return errEvent(id, CodeServiceUnavailable, "service unavailable")
}

func ErrInvalidEvent(id int) *ServerEvent {
	return errEvent(id, CodeValidationError, "invalid event format")
}
