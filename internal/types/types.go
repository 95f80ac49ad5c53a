package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id           int           `json:"id"`
	ExternalId   string        `json:"external_id"`
	Code         string        `json:"code,omitempty"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	IsPrivate    bool          `json:"is_private"`
	CreatedBy    int           `json:"created_by"`
	LastSeqId    int           `json:"last_seq_id"`
	Participants []Participant `json:"participants,omitempty"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}

type Participant struct {
	UserId    int       `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	IsPresent bool      `json:"is_present"`
	JoinedAt  time.Time `json:"joined_at,omitempty"`
}

type Message struct {
	Id          int        `json:"id"`
	SeqId       int        `json:"seq_id"`
	RoomId      string     `json:"room_id"`
	SenderId    int        `json:"sender_id"`
	Sender      string     `json:"sender"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	ReplyTo     *int       `json:"reply_to,omitempty"`
	IsEdited    bool       `json:"is_edited,omitempty"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}
