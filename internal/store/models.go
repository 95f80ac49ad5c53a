package store

import "time"

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"

	StateActive   = "active"
	StateInactive = "inactive"

	MessageText   = "text"
	MessageImage  = "image"
	MessageFile   = "file"
	MessageCode   = "code"
	MessageSystem = "system"
)

const DefaultMaxParticipants = 50

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id              int
	ExternalId      string
	Code            string
	Name            string
	Description     string
	IsPrivate       bool
	CreatedBy       int
	LastSeqId       int
	MaxParticipants int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Participant struct {
	Id        int
	RoomId    int
	UserId    int
	Username  string
	Role      string
	State     string
	JoinedAt  time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id          int
	SeqId       int
	RoomId      int
	SenderId    int
	SenderName  string
	Content     string
	MessageType string
	ReplyTo     *int
	IsEdited    bool
	EditedAt    *time.Time
	CreatedAt   time.Time
}

type CreateRoomParams struct {
	Name        string
	Description string
	IsPrivate   bool
	CreatedBy   int
	ExternalId  string
	Code        string
}
