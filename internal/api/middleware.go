package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (int, bool) {
	userId, ok := ctx.Value(userIdKey).(int)
	return userId, ok
}

// bearerCredential extracts the credential from the Authorization header,
// falling back to the token query parameter for websocket handshakes where
// browsers cannot set headers.
func bearerCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if cred, ok := strings.CutPrefix(h, "Bearer "); ok {
			return cred
		}
		return ""
	}

	return r.URL.Query().Get("token")
}

// authMiddleware is the connection gate for the REST surface and the
// websocket handshake: no handler behind it runs without a verified
// credential.
func (s *App) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId, err := s.authenticator.Authenticate(r.Context(), bearerCredential(r))
		if err != nil {
			s.log.Printf("authenticate: %v", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithUserId(r.Context(), userId)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

func (s *App) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}
