package store

import (
	"database/sql"
	"errors"
	"time"
)

const (
	participantColumns = "p.id, p.room_id, p.user_id, a.username, p.role, p.state, p.joined_at, p.updated_at"
	messageColumns     = "m.id, m.seq_id, m.room_id, m.sender_id, a.username, m.content, m.message_type, m.reply_to, m.is_edited, m.edited_at, m.created_at"
)

func (db *PgRepository) GetAccountById(accountId int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}

	return a, err
}

func (db *PgRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO rooms (external_id, code, name, description, is_private, created_by, max_participants, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) "+
			"RETURNING id, external_id, code, name, description, is_private, created_by, last_seq_id, max_participants, created_at, updated_at",
		params.ExternalId,
		params.Code,
		params.Name,
		params.Description,
		params.IsPrivate,
		params.CreatedBy,
		DefaultMaxParticipants,
		time.Now().UTC(),
	)

	var room Room
	err = res.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Code,
		&room.Name,
		&room.Description,
		&room.IsPrivate,
		&room.CreatedBy,
		&room.LastSeqId,
		&room.MaxParticipants,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return Room{}, err
	}

	// the creator is the room's first and only admin
	_, err = tx.Exec(
		"INSERT INTO participants (room_id, user_id, role, state, joined_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5)",
		room.Id,
		params.CreatedBy,
		RoleAdmin,
		StateActive,
		time.Now().UTC(),
	)
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgRepository) getRoom(where string, arg any) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, code, name, description, is_private, created_by, last_seq_id, max_participants, created_at, updated_at "+
			"FROM rooms WHERE "+where+" LIMIT 1",
		arg,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Code,
		&room.Name,
		&room.Description,
		&room.IsPrivate,
		&room.CreatedBy,
		&room.LastSeqId,
		&room.MaxParticipants,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}

	return room, err
}

func (db *PgRepository) GetRoomByExternalId(externalId string) (Room, error) {
	return db.getRoom("external_id = $1", externalId)
}

func (db *PgRepository) GetRoomByCode(code string) (Room, error) {
	return db.getRoom("code = $1", code)
}

func (db *PgRepository) RoomCodeExists(code string) bool {
	var id int
	err := db.conn.QueryRow("SELECT id FROM rooms WHERE code = $1 LIMIT 1", code).Scan(&id)
	return err == nil
}

func (db *PgRepository) ListRoomsForUser(userId int) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT r.id, r.external_id, r.code, r.name, r.description, r.is_private, r.created_by, r.last_seq_id, r.max_participants, r.created_at, r.updated_at "+
			"FROM participants p JOIN rooms r ON r.id = p.room_id "+
			"WHERE p.user_id = $1 AND p.state = $2 ORDER BY r.updated_at DESC",
		userId,
		StateActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err = rows.Scan(
			&room.Id,
			&room.ExternalId,
			&room.Code,
			&room.Name,
			&room.Description,
			&room.IsPrivate,
			&room.CreatedBy,
			&room.LastSeqId,
			&room.MaxParticipants,
			&room.CreatedAt,
			&room.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgRepository) GetParticipant(roomId, userId int) (Participant, error) {
	row := db.conn.QueryRow(
		"SELECT "+participantColumns+" FROM participants p "+
			"JOIN accounts a ON a.id = p.user_id "+
			"WHERE p.room_id = $1 AND p.user_id = $2 LIMIT 1",
		roomId,
		userId,
	)

	var p Participant
	err := row.Scan(
		&p.Id,
		&p.RoomId,
		&p.UserId,
		&p.Username,
		&p.Role,
		&p.State,
		&p.JoinedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}

	return p, err
}

func (db *PgRepository) ListParticipants(roomId int) ([]Participant, error) {
	rows, err := db.conn.Query(
		"SELECT "+participantColumns+" FROM participants p "+
			"JOIN accounts a ON a.id = p.user_id "+
			"WHERE p.room_id = $1 AND p.state = $2 ORDER BY p.joined_at",
		roomId,
		StateActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err = rows.Scan(
			&p.Id,
			&p.RoomId,
			&p.UserId,
			&p.Username,
			&p.Role,
			&p.State,
			&p.JoinedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// JoinRoom creates or reactivates the participant row for (roomId, userId).
// The first participant of a room becomes its admin; everyone else joins as
// a member. The room row is locked for the duration of the transaction so
// concurrent joins observe a consistent participant count.
func (db *PgRepository) JoinRoom(roomId, userId int) (Participant, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Participant{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var maxParticipants int
	err = tx.QueryRow("SELECT max_participants FROM rooms WHERE id = $1 FOR UPDATE", roomId).Scan(&maxParticipants)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return Participant{}, err
	} else if err != nil {
		return Participant{}, err
	}

	var activeCount int
	err = tx.QueryRow(
		"SELECT COUNT(*) FROM participants WHERE room_id = $1 AND state = $2",
		roomId,
		StateActive,
	).Scan(&activeCount)
	if err != nil {
		return Participant{}, err
	}

	var existingId int
	var existingState string
	err = tx.QueryRow(
		"SELECT id, state FROM participants WHERE room_id = $1 AND user_id = $2 LIMIT 1",
		roomId,
		userId,
	).Scan(&existingId, &existingState)

	var participantId int
	switch {
	case err == nil && existingState == StateActive:
		err = ErrAlreadyMember
		return Participant{}, err
	case err == nil:
		// rejoin: reactivate with a fresh joined_at so admin promotion
		// recency reflects the rejoin
		_, err = tx.Exec(
			"UPDATE participants SET state = $1, role = $2, joined_at = $3, updated_at = $3 WHERE id = $4",
			StateActive,
			RoleMember,
			time.Now().UTC(),
			existingId,
		)
		if err != nil {
			return Participant{}, err
		}
		participantId = existingId
	case errors.Is(err, sql.ErrNoRows):
		if activeCount >= maxParticipants {
			err = ErrRoomFull
			return Participant{}, err
		}

		role := RoleMember
		if activeCount == 0 {
			role = RoleAdmin
		}

		err = tx.QueryRow(
			"INSERT INTO participants (room_id, user_id, role, state, joined_at, updated_at) "+
				"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id",
			roomId,
			userId,
			role,
			StateActive,
			time.Now().UTC(),
		).Scan(&participantId)
		if err != nil {
			return Participant{}, err
		}
	default:
		return Participant{}, err
	}

	row := tx.QueryRow(
		"SELECT "+participantColumns+" FROM participants p "+
			"JOIN accounts a ON a.id = p.user_id WHERE p.id = $1",
		participantId,
	)

	var p Participant
	err = row.Scan(
		&p.Id,
		&p.RoomId,
		&p.UserId,
		&p.Username,
		&p.Role,
		&p.State,
		&p.JoinedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Participant{}, err
	}

	if err = tx.Commit(); err != nil {
		return Participant{}, err
	}

	return p, nil
}

// LeaveRoom marks the participant inactive, keeping the row so message
// attribution survives. If the leaver was the only active admin and other
// active participants remain, the most recently joined of them is promoted.
// Returns the promoted user's id, or zero if no promotion happened.
func (db *PgRepository) LeaveRoom(roomId, userId int) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var roomLock int
	err = tx.QueryRow("SELECT id FROM rooms WHERE id = $1 FOR UPDATE", roomId).Scan(&roomLock)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return 0, err
	} else if err != nil {
		return 0, err
	}

	var role, state string
	err = tx.QueryRow(
		"SELECT role, state FROM participants WHERE room_id = $1 AND user_id = $2 LIMIT 1",
		roomId,
		userId,
	).Scan(&role, &state)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && state != StateActive) {
		err = ErrNotFound
		return 0, err
	} else if err != nil {
		return 0, err
	}

	_, err = tx.Exec(
		"UPDATE participants SET state = $1, updated_at = $2 WHERE room_id = $3 AND user_id = $4",
		StateInactive,
		time.Now().UTC(),
		roomId,
		userId,
	)
	if err != nil {
		return 0, err
	}

	var promotedUserId int
	if role == RoleAdmin {
		var remainingAdmins int
		err = tx.QueryRow(
			"SELECT COUNT(*) FROM participants WHERE room_id = $1 AND state = $2 AND role = $3",
			roomId,
			StateActive,
			RoleAdmin,
		).Scan(&remainingAdmins)
		if err != nil {
			return 0, err
		}

		if remainingAdmins == 0 {
			err = tx.QueryRow(
				"SELECT user_id FROM participants WHERE room_id = $1 AND state = $2 "+
					"ORDER BY joined_at DESC, id DESC LIMIT 1",
				roomId,
				StateActive,
			).Scan(&promotedUserId)
			if errors.Is(err, sql.ErrNoRows) {
				// no participants remain; room stays inert
				err = nil
			} else if err != nil {
				return 0, err
			} else {
				_, err = tx.Exec(
					"UPDATE participants SET role = $1, updated_at = $2 WHERE room_id = $3 AND user_id = $4",
					RoleAdmin,
					time.Now().UTC(),
					roomId,
					promotedUserId,
				)
				if err != nil {
					return 0, err
				}
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return promotedUserId, nil
}

// AppendMessage persists a message with its caller-assigned sequence number
// and advances the room's last_seq_id in the same transaction, so readers
// never observe a reserved-but-unused sequence.
func (db *PgRepository) AppendMessage(msg Message) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	err = tx.QueryRow(
		"INSERT INTO messages (seq_id, room_id, sender_id, content, message_type, reply_to, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at",
		msg.SeqId,
		msg.RoomId,
		msg.SenderId,
		msg.Content,
		msg.MessageType,
		msg.ReplyTo,
		msg.CreatedAt,
	).Scan(&msg.Id, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE rooms SET last_seq_id = $1, updated_at = $2 WHERE id = $3",
		msg.SeqId,
		time.Now().UTC(),
		msg.RoomId,
	)
	if err != nil {
		return Message{}, err
	}

	err = tx.QueryRow("SELECT username FROM accounts WHERE id = $1", msg.SenderId).Scan(&msg.SenderName)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgRepository) GetMessage(id int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages m "+
			"JOIN accounts a ON a.id = m.sender_id WHERE m.id = $1 LIMIT 1",
		id,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	return msg, err
}

func (db *PgRepository) ListMessages(roomId, beforeSeq, limit int) ([]Message, error) {
	upper := 1<<31 - 1
	if beforeSeq > 0 {
		upper = beforeSeq - 1
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m "+
			"JOIN accounts a ON a.id = m.sender_id "+
			"WHERE m.room_id = $1 AND m.seq_id <= $2 ORDER BY m.seq_id DESC LIMIT $3",
		roomId,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRepository) EditMessage(id, senderId int, content string) (Message, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET content = $1, is_edited = TRUE, edited_at = $2 "+
			"WHERE id = $3 AND sender_id = $4",
		content,
		time.Now().UTC(),
		id,
		senderId,
	)
	if err != nil {
		return Message{}, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Message{}, err
	}

	if n == 0 {
		// distinguish a missing message from someone else's message
		if _, err := db.GetMessage(id); err != nil {
			return Message{}, err
		}
		return Message{}, ErrNotSender
	}

	return db.GetMessage(id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg      Message
		replyTo  sql.NullInt64
		editedAt sql.NullTime
	)

	err := row.Scan(
		&msg.Id,
		&msg.SeqId,
		&msg.RoomId,
		&msg.SenderId,
		&msg.SenderName,
		&msg.Content,
		&msg.MessageType,
		&replyTo,
		&msg.IsEdited,
		&editedAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if replyTo.Valid {
		v := int(replyTo.Int64)
		msg.ReplyTo = &v
	}
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}

	return msg, nil
}
