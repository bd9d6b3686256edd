package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
)

type contextKey struct{ name string }

var (
	requestIDKey = contextKey{"requestID"}
	userKey      = contextKey{"user"}
)

// UserEmailHeader identifies the caller. There is no further authentication.
const UserEmailHeader = "X-User-Email"

// requestIDMiddleware takes X-Request-ID from the request or generates one,
// and echoes it in the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stored by the router, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// accessLog logs one line per request and records the HTTP metrics.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		took := time.Since(start)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			s.metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(took.Seconds())
		}
		s.logger.Info("http request",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", took))
	})
}

// requireUser resolves the X-User-Email header to a user.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.Header.Get(UserEmailHeader)
		if email == "" {
			fail(w, http.StatusUnauthorized, "MISSING_USER", "X-User-Email header is required")
			return
		}
		user, err := s.users.ResolveEmail(r.Context(), email)
		if err != nil {
			if errors.Is(err, linkcheck.ErrNotFound) || errors.Is(err, linkcheck.ErrInvalidEmail) {
				fail(w, http.StatusUnauthorized, "USER_NOT_FOUND", "User not found. Please login first.")
				return
			}
			s.handleError(w, r, err, "")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func currentUser(r *http.Request) *linkcheck.User {
	u, _ := r.Context().Value(userKey).(*linkcheck.User)
	return u
}
