package store

import (
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSqlMockRepo(t *testing.T) (*PgRepository, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to open sqlmock connection")
	t.Cleanup(func() { conn.Close() })

	return &PgRepository{conn: conn}, mock
}

// The leave/promotion transaction, step by step.
var (
	lockRoomForLeave = regexp.QuoteMeta("SELECT id FROM rooms WHERE id = $1 FOR UPDATE")
	selectRoleState  = regexp.QuoteMeta("SELECT role, state FROM participants WHERE room_id = $1 AND user_id = $2 LIMIT 1")
	deactivateQuery  = regexp.QuoteMeta("UPDATE participants SET state = $1, updated_at = $2 WHERE room_id = $3 AND user_id = $4")
	countAdminsQuery = regexp.QuoteMeta("SELECT COUNT(*) FROM participants WHERE room_id = $1 AND state = $2 AND role = $3")
	pickSuccessor    = regexp.QuoteMeta("SELECT user_id FROM participants WHERE room_id = $1 AND state = $2 ORDER BY joined_at DESC, id DESC LIMIT 1")
	promoteQuery     = regexp.QuoteMeta("UPDATE participants SET role = $1, updated_at = $2 WHERE room_id = $3 AND user_id = $4")
)

func TestLeaveRoom(t *testing.T) {
	t.Run("sole admin leaving promotes the most recently joined active participant", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForLeave).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(selectRoleState).WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"role", "state"}).AddRow(RoleAdmin, StateActive))
		mock.ExpectExec(deactivateQuery).WithArgs(StateInactive, sqlmock.AnyArg(), 1, 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(countAdminsQuery).WithArgs(1, StateActive, RoleAdmin).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(pickSuccessor).WithArgs(1, StateActive).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
		mock.ExpectExec(promoteQuery).WithArgs(RoleAdmin, sqlmock.AnyArg(), 1, 7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		promoted, err := db.LeaveRoom(1, 10)
		require.NoError(t, err)
		assert.Equal(t, 7, promoted, "expected exactly one new admin, the most recent joiner")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no promotion while another active admin remains", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForLeave).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(selectRoleState).WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"role", "state"}).AddRow(RoleAdmin, StateActive))
		mock.ExpectExec(deactivateQuery).WithArgs(StateInactive, sqlmock.AnyArg(), 1, 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(countAdminsQuery).WithArgs(1, StateActive, RoleAdmin).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectCommit()

		promoted, err := db.LeaveRoom(1, 10)
		require.NoError(t, err)
		assert.Zero(t, promoted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("member leaving never triggers the promotion path", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForLeave).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(selectRoleState).WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"role", "state"}).AddRow(RoleMember, StateActive))
		mock.ExpectExec(deactivateQuery).WithArgs(StateInactive, sqlmock.AnyArg(), 1, 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		promoted, err := db.LeaveRoom(1, 10)
		require.NoError(t, err)
		assert.Zero(t, promoted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last participant leaving leaves the room without an admin", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForLeave).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(selectRoleState).WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"role", "state"}).AddRow(RoleAdmin, StateActive))
		mock.ExpectExec(deactivateQuery).WithArgs(StateInactive, sqlmock.AnyArg(), 1, 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(countAdminsQuery).WithArgs(1, StateActive, RoleAdmin).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(pickSuccessor).WithArgs(1, StateActive).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectCommit()

		promoted, err := db.LeaveRoom(1, 10)
		require.NoError(t, err)
		assert.Zero(t, promoted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already inactive participant cannot leave again", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForLeave).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery(selectRoleState).WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"role", "state"}).AddRow(RoleMember, StateInactive))
		mock.ExpectRollback()

		_, err := db.LeaveRoom(1, 10)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown room", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForLeave).WithArgs(99).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := db.LeaveRoom(99, 10)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var (
	lockRoomForJoin   = regexp.QuoteMeta("SELECT max_participants FROM rooms WHERE id = $1 FOR UPDATE")
	countActiveQuery  = regexp.QuoteMeta("SELECT COUNT(*) FROM participants WHERE room_id = $1 AND state = $2")
	selectExisting    = regexp.QuoteMeta("SELECT id, state FROM participants WHERE room_id = $1 AND user_id = $2 LIMIT 1")
	reactivateQuery   = regexp.QuoteMeta("UPDATE participants SET state = $1, role = $2, joined_at = $3, updated_at = $3 WHERE id = $4")
	insertParticipant = regexp.QuoteMeta("INSERT INTO participants (room_id, user_id, role, state, joined_at, updated_at) VALUES ($1, $2, $3, $4, $5, $5) RETURNING id")
	selectParticipant = regexp.QuoteMeta("SELECT " + participantColumns + " FROM participants p JOIN accounts a ON a.id = p.user_id WHERE p.id = $1")
)

func participantRow(id, roomId, userId int, username, role string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "room_id", "user_id", "username", "role", "state", "joined_at", "updated_at"}).
		AddRow(id, roomId, userId, username, role, StateActive, now, now)
}

func TestJoinRoom(t *testing.T) {
	t.Run("first joiner becomes admin", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForJoin).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"max_participants"}).AddRow(DefaultMaxParticipants))
		mock.ExpectQuery(countActiveQuery).WithArgs(1, StateActive).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(selectExisting).WithArgs(1, 10).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(insertParticipant).WithArgs(1, 10, RoleAdmin, StateActive, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectQuery(selectParticipant).WithArgs(5).
			WillReturnRows(participantRow(5, 1, 10, "alice", RoleAdmin))
		mock.ExpectCommit()

		p, err := db.JoinRoom(1, 10)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, p.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("later joiners become members", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForJoin).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"max_participants"}).AddRow(DefaultMaxParticipants))
		mock.ExpectQuery(countActiveQuery).WithArgs(1, StateActive).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery(selectExisting).WithArgs(1, 10).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(insertParticipant).WithArgs(1, 10, RoleMember, StateActive, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(6))
		mock.ExpectQuery(selectParticipant).WithArgs(6).
			WillReturnRows(participantRow(6, 1, 10, "bob", RoleMember))
		mock.ExpectCommit()

		p, err := db.JoinRoom(1, 10)
		require.NoError(t, err)
		assert.Equal(t, RoleMember, p.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active member cannot join twice", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForJoin).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"max_participants"}).AddRow(DefaultMaxParticipants))
		mock.ExpectQuery(countActiveQuery).WithArgs(1, StateActive).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(selectExisting).WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow(5, StateActive))
		mock.ExpectRollback()

		_, err := db.JoinRoom(1, 10)
		assert.ErrorIs(t, err, ErrAlreadyMember)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("former member rejoins as member with a fresh joined_at", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForJoin).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"max_participants"}).AddRow(DefaultMaxParticipants))
		mock.ExpectQuery(countActiveQuery).WithArgs(1, StateActive).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(selectExisting).WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "state"}).AddRow(5, StateInactive))
		mock.ExpectExec(reactivateQuery).WithArgs(StateActive, RoleMember, sqlmock.AnyArg(), 5).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(selectParticipant).WithArgs(5).
			WillReturnRows(participantRow(5, 1, 10, "carol", RoleMember))
		mock.ExpectCommit()

		p, err := db.JoinRoom(1, 10)
		require.NoError(t, err)
		assert.Equal(t, RoleMember, p.Role, "expected a rejoin to downgrade any former role")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("room at capacity", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockRoomForJoin).WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"max_participants"}).AddRow(2))
		mock.ExpectQuery(countActiveQuery).WithArgs(1, StateActive).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(selectExisting).WithArgs(1, 10).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := db.JoinRoom(1, 10)
		assert.ErrorIs(t, err, ErrRoomFull)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var (
	insertMessage = regexp.QuoteMeta("INSERT INTO messages (seq_id, room_id, sender_id, content, message_type, reply_to, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at")
	bumpLastSeq   = regexp.QuoteMeta("UPDATE rooms SET last_seq_id = $1, updated_at = $2 WHERE id = $3")
	selectSender  = regexp.QuoteMeta("SELECT username FROM accounts WHERE id = $1")
	duplicateSeq  = errors.New(`pq: duplicate key value violates unique constraint "messages_room_id_seq_id_key"`)
)

func TestAppendMessage(t *testing.T) {
	t.Run("persists the message and advances last_seq_id in one transaction", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(insertMessage).
			WithArgs(4, 1, 10, "hello", MessageText, nil, now).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(100, now))
		mock.ExpectExec(bumpLastSeq).WithArgs(4, sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(selectSender).WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("alice"))
		mock.ExpectCommit()

		saved, err := db.AppendMessage(Message{
			SeqId:       4,
			RoomId:      1,
			SenderId:    10,
			Content:     "hello",
			MessageType: MessageText,
			CreatedAt:   now,
		})
		require.NoError(t, err)
		assert.Equal(t, 100, saved.Id)
		assert.Equal(t, 4, saved.SeqId)
		assert.Equal(t, "alice", saved.SenderName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sequence collision rolls back without touching the room", func(t *testing.T) {
		db, mock := newSqlMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(insertMessage).
			WithArgs(4, 1, 10, "hello", MessageText, nil, sqlmock.AnyArg()).
			WillReturnError(duplicateSeq)
		mock.ExpectRollback()

		_, err := db.AppendMessage(Message{
			SeqId:       4,
			RoomId:      1,
			SenderId:    10,
			Content:     "hello",
			MessageType: MessageText,
			CreatedAt:   time.Now(),
		})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
