package server

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserIDContextKey holds the verified user id of the request.
const UserIDContextKey contextKey = "user_id"

// authMiddleware requires a valid "Authorization: Bearer <jwt>" header.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization header format")
			return
		}

		userID, err := s.authService.VerifyToken(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the user id set by the auth middleware.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDContextKey).(string)
	return userID
}
