package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/teamsync/chatserver/internal/chat"
	"github.com/teamsync/chatserver/internal/store"
	"github.com/teamsync/chatserver/internal/types"
)

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
}

type JoinByCodeRequest struct {
	Code string `json:"code"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type MessagesResponse struct {
	Messages []types.Message `json:"messages"`
	NextPage int             `json:"next_page"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

const roomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateRoomCode produces the human-shareable join code, retrying until
// the code is unused.
func (s *App) generateRoomCode() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code := make([]byte, 6)
		for i := range code {
			code[i] = roomCodeCharset[rand.IntN(len(roomCodeCharset))]
		}

		if !s.db.RoomCodeExists(string(code)) {
			return string(code), nil
		}
	}

	return "", fmt.Errorf("could not allocate a unique room code")
}

func (s *App) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError("room name cannot be empty")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := shortid.Generate()
	if err != nil {
		s.log.Println("generate short id:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	code, err := s.generateRoomCode()
	if err != nil {
		s.log.Println("generate room code:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newRoom, err := s.db.CreateRoom(store.CreateRoomParams{
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		CreatedBy:   userId,
		ExternalId:  sid,
		Code:        code,
	})
	if err != nil {
		s.log.Println("create room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, roomToApi(newRoom))
}

func (s *App) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRooms, err := s.db.ListRoomsForUser(userId)
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, dbRoom := range dbRooms {
		rooms = append(rooms, roomToApi(dbRoom))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *App) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(r.PathValue("id"))
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.join(w, room, userId)
}

func (s *App) joinRoomByCode(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req JoinByCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		errResp := NewBadRequestError("room code is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByCode(req.Code)
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.join(w, room, userId)
}

func (s *App) join(w http.ResponseWriter, room store.Room, userId int) {
	participant, err := s.db.JoinRoom(room.Id, userId)
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := roomToApi(room)
	resp.Participants = []types.Participant{participantToApi(participant)}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *App) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(r.PathValue("id"))
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	promoted, err := s.db.LeaveRoom(room.Id, userId)
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if promoted != 0 {
		s.log.Printf("room %q: user %d promoted to admin", room.ExternalId, promoted)
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *App) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(r.PathValue("id"))
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// history is only visible to current active participants, regardless of
	// past membership
	participant, err := s.db.GetParticipant(room.Id, userId)
	if err != nil || participant.State != store.StateActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var page, limit int
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if page, err = strconv.Atoi(pageStr); err != nil {
			errResp := NewBadRequestError("invalid page token")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			errResp := NewBadRequestError("invalid limit")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	dbMessages, err := s.db.ListMessages(room.Id, page, limit)
	if err != nil {
		s.log.Println("list messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := MessagesResponse{Messages: make([]types.Message, 0, len(dbMessages))}
	for _, msg := range dbMessages {
		resp.Messages = append(resp.Messages, messageToApi(msg, room.ExternalId))
	}

	// next_page is the cursor for the page preceding the oldest returned
	// message; zero means history is exhausted
	if n := len(dbMessages); n > 0 && dbMessages[n-1].SeqId > 1 {
		resp.NextPage = dbMessages[n-1].SeqId
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *App) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError("invalid message id")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		errResp := NewBadRequestError("content cannot be empty")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.EditMessage(msgId, userId, req.Content)
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messageToApi(updated, ""))
}

// serveWs is the websocket handshake behind the connection gate: the
// credential has already been verified by authMiddleware, so no protocol
// event is ever processed for an unauthenticated connection.
func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := fromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := chat.NewClient(types.User{
		Id:           account.Id,
		Username:     account.Username,
		EmailAddress: account.EmailAddress,
		CreatedAt:    account.CreatedAt,
		UpdatedAt:    account.UpdatedAt,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func roomToApi(room store.Room) types.Room {
	return types.Room{
		Id:          room.Id,
		ExternalId:  room.ExternalId,
		Code:        room.Code,
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedBy:   room.CreatedBy,
		LastSeqId:   room.LastSeqId,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
	}
}

func participantToApi(p store.Participant) types.Participant {
	return types.Participant{
		UserId:   p.UserId,
		Username: p.Username,
		Role:     p.Role,
		State:    p.State,
		JoinedAt: p.JoinedAt,
	}
}

func messageToApi(msg store.Message, roomExternalId string) types.Message {
	return types.Message{
		Id:          msg.Id,
		SeqId:       msg.SeqId,
		RoomId:      roomExternalId,
		SenderId:    msg.SenderId,
		Sender:      msg.SenderName,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		ReplyTo:     msg.ReplyTo,
		IsEdited:    msg.IsEdited,
		EditedAt:    msg.EditedAt,
		Timestamp:   msg.CreatedAt,
	}
}
