package app

import (
	"context"
	"errors"
	"net/http"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller verified by the session guard.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func (s *HTTPServer) authenticate(r *http.Request) (Session, error) {
	token := sessionToken(r)
	if token == "" {
		return Session{}, errUnauthorized
	}
	return s.service.SessionFromToken(r.Context(), token)
}

// requireSession rejects the request with 401 unless it carries a live session.
func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.authenticate(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), session.Identity)))
	})
}

// optionalSession attaches the identity when there is one and never fails the request.
func (s *HTTPServer) optionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.authenticate(r)
		if err != nil {
			if !errors.Is(err, errUnauthorized) {
				s.logger.Error("session lookup failed", "request_id", requestIDFrom(r.Context()), "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), session.Identity)))
	})
}
