package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teamsync/chatserver/internal/auth"
	"github.com/teamsync/chatserver/internal/chat"
	"github.com/teamsync/chatserver/internal/config"
	"github.com/teamsync/chatserver/internal/store"
)

type App struct {
	log            *log.Logger
	db             store.Repository
	srv            *http.Server
	cs             *chat.ChatServer
	authenticator  auth.Authenticator
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *chat.ChatServer, db store.Repository, authenticator auth.Authenticator, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		db:             db,
		cs:             cs,
		authenticator:  authenticator,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("POST /api/rooms/join", s.authMiddleware(s.joinRoomByCode))
	mux.Handle("POST /api/rooms/{id}/join", s.authMiddleware(s.joinRoom))
	mux.Handle("POST /api/rooms/{id}/leave", s.authMiddleware(s.leaveRoom))
	mux.Handle("GET /api/rooms/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("PATCH /api/messages/{id}", s.authMiddleware(s.editMessage))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
