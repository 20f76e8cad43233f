package app

import (
	"net/http"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/store"
)

type userView struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FullName  *string `json:"fullName"`
	AvatarURL *string `json:"avatarUrl"`
}

func toUserView(user store.User) userView {
	return userView{ID: user.ID, Email: user.Email, FullName: user.FullName, AvatarURL: user.AvatarURL}
}

type credentials struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName *string `json:"fullName"`
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, user, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.FullName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserView(user)})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	session, user, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserView(user)})
}

// handleLogout always clears the cookie. A revocation failure is logged but does
// not keep the browser signed in.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), sessionToken(r)); err != nil {
		s.logger.Error("revoke session", "request_id", requestIDFrom(r.Context()), "error", err)
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

func (s *HTTPServer) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	target, err := s.service.GoogleStart(r.URL.Query().Get("redirect"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	session, redirect, err := s.service.GoogleCallback(r.Context(), query.Get("code"), query.Get("state"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, session.Token)
	http.Redirect(w, r, s.cfg.AppURL+redirect, http.StatusFound)
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	profile, err := s.service.Profile(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": map[string]any{
		"id":        profile.ID,
		"email":     profile.Email,
		"fullName":  profile.FullName,
		"avatarUrl": profile.AvatarURL,
		"plan":      profile.Plan,
		"createdAt": profile.CreatedAt,
		"updatedAt": profile.UpdatedAt,
	}})
}
