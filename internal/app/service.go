package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/auth"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/authpw"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/config"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/oauth"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/search"
	"github.com/srinithinsomasundaram/thamly-sub000/internal/store"
)

type dataStore interface {
	CreateUser(context.Context, store.NewUser) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	UpsertOAuthUser(context.Context, string, *string, *string) (store.User, error)
	GetProfile(context.Context, string) (store.Profile, error)
	ListDrafts(context.Context, string) ([]store.Draft, error)
	GetDraft(context.Context, string, string) (store.Draft, error)
	CreateDraft(context.Context, string, store.DraftInput) (store.Draft, error)
	UpdateDraft(context.Context, string, string, store.DraftPatch) (store.Draft, error)
	SoftDeleteDraft(context.Context, string, string) (bool, error)
	RevokeSession(context.Context, string, time.Time) error
	IsSessionRevoked(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

// revocationList holds hashes of logged-out session tokens until they expire.
type revocationList interface {
	RevokeSession(context.Context, string, time.Time) error
	IsSessionRevoked(context.Context, string) (bool, error)
}

type googleProvider interface {
	Configured() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, token *oauth2.Token) (oauth.Profile, error)
}

type draftSearch interface {
	Search(context.Context, search.Query) search.Response
	IndexDraft(store.Draft)
	DeleteDraft(id string)
}

// Identity is the verified caller placed in the request context by the session guard.
type Identity struct {
	UserID   string  `json:"id"`
	Email    string  `json:"email"`
	FullName *string `json:"fullName"`
}

type Session struct {
	Token     string
	Identity  Identity
	ExpiresAt time.Time
}

type Service struct {
	cfg       config.Config
	store     dataStore
	revoked   revocationList
	passwords *authpw.Service
	google    googleProvider
	search    draftSearch
	logger    *slog.Logger
}

type Option func(*Service)

// WithRevocationList replaces the Postgres revocation table, typically with Redis.
func WithRevocationList(list revocationList) Option {
	return func(s *Service) {
		if list != nil {
			s.revoked = list
		}
	}
}

func WithGoogle(provider googleProvider) Option {
	return func(s *Service) {
		s.google = provider
	}
}

func WithSearch(index draftSearch) Option {
	return func(s *Service) {
		s.search = index
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(cfg config.Config, data dataStore, hasher *authpw.Hasher, opts ...Option) (*Service, error) {
	passwords, err := authpw.NewService(data, hasher)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:       cfg,
		store:     data,
		revoked:   data,
		passwords: passwords,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "app")
	return s, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) secret() []byte {
	return []byte(s.cfg.SessionSecret)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	token, claims, err := auth.IssueSession(s.secret(), user.ID, user.Email, user.FullName, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		Identity:  identityOf(user),
		ExpiresAt: auth.ExpiresAt(claims.Exp),
	}, nil
}

func identityOf(user store.User) Identity {
	return Identity{UserID: user.ID, Email: user.Email, FullName: user.FullName}
}

func (s *Service) SignUp(ctx context.Context, email, password string, fullName *string) (Session, store.User, error) {
	user, err := s.passwords.SignUp(ctx, email, password, fullName)
	switch {
	case errors.Is(err, authpw.ErrEmailPasswordRequired):
		return Session{}, store.User{}, errEmailPasswordRequired
	case errors.Is(err, authpw.ErrInvalidEmail):
		return Session{}, store.User{}, errInvalidEmail
	case errors.Is(err, authpw.ErrPasswordTooShort):
		return Session{}, store.User{}, errPasswordTooShort
	case errors.Is(err, authpw.ErrEmailTaken):
		return Session{}, store.User{}, errEmailTaken
	case err != nil:
		return Session{}, store.User{}, err
	}
	session, err := s.issueSession(user)
	return session, user, err
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, store.User, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	switch {
	case errors.Is(err, authpw.ErrEmailPasswordRequired):
		return Session{}, store.User{}, errEmailPasswordRequired
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return Session{}, store.User{}, errInvalidCredentials
	case err != nil:
		return Session{}, store.User{}, err
	}
	session, err := s.issueSession(user)
	return session, user, err
}

// SessionFromToken verifies token, checks it was not logged out and re-loads its
// user. Every rejection is errUnauthorized; only storage failures differ.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseSession(s.secret(), token)
	if err != nil {
		s.logger.Warn("session rejected", "reason", tokenFailure(err))
		return Session{}, errUnauthorized
	}
	revoked, err := s.revoked.IsSessionRevoked(ctx, auth.HashToken(token))
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		s.logger.Warn("session rejected", "reason", "revoked")
		return Session{}, errUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("session rejected", "reason", "user_missing")
		return Session{}, errUnauthorized
	}
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Identity: identityOf(user), ExpiresAt: auth.ExpiresAt(claims.Exp)}, nil
}

func tokenFailure(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "malformed"
	}
}

// Logout puts a still-valid token on the revocation list. Tokens that no longer
// verify need no entry.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := auth.ParseSession(s.secret(), token)
	if err != nil {
		return nil
	}
	return s.revoked.RevokeSession(ctx, auth.HashToken(token), auth.ExpiresAt(claims.Exp))
}

// GoogleStart returns the provider URL to send the browser to.
func (s *Service) GoogleStart(redirect string) (string, error) {
	if s.google == nil || !s.google.Configured() {
		return "", errGoogleNotConfigured
	}
	state, err := auth.IssueState(s.secret(), sanitizeRedirect(redirect), s.cfg.StateTTL)
	if err != nil {
		return "", err
	}
	return s.google.AuthCodeURL(state), nil
}

// GoogleCallback completes the code exchange and returns the new session and the
// path captured in the state token.
func (s *Service) GoogleCallback(ctx context.Context, code, state string) (Session, string, error) {
	if s.google == nil || !s.google.Configured() {
		return Session{}, "", errGoogleNotConfigured
	}
	if code == "" || state == "" {
		return Session{}, "", errMissingCodeOrState
	}
	claims, err := auth.ParseState(s.secret(), state)
	if err != nil {
		s.logger.Warn("oauth state rejected", "reason", tokenFailure(err))
		return Session{}, "", errInvalidState
	}

	token, err := s.google.Exchange(ctx, code)
	if err != nil {
		return Session{}, "", providerFailure("google_token_error", err)
	}
	profile, err := s.google.UserInfo(ctx, token)
	if err != nil {
		return Session{}, "", providerFailure("google_userinfo_error", err)
	}
	if profile.Email == "" {
		return Session{}, "", errGoogleEmailMissing
	}

	user, err := s.store.UpsertOAuthUser(ctx, profile.Email, profile.Name, profile.Picture)
	if err != nil {
		return Session{}, "", err
	}
	session, err := s.issueSession(user)
	if err != nil {
		return Session{}, "", err
	}
	return session, sanitizeRedirect(claims.Redirect), nil
}

func providerFailure(code string, err error) *DomainError {
	message := "Google sign-in failed"
	var perr *oauth.ProviderError
	if errors.As(err, &perr) && perr.Detail != "" {
		message = perr.Detail
	}
	return domainError(http.StatusBadRequest, code, message, nil)
}

// sanitizeRedirect keeps post-login redirects on our own origin.
func sanitizeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "/"
	}
	// Browsers drop tab and newline from URLs, so "/\t/host" would become "//host".
	for i := 0; i < len(target); i++ {
		if target[i] < 0x20 || target[i] == 0x7f {
			return "/"
		}
	}
	return target
}

func (s *Service) Profile(ctx context.Context, userID string) (store.Profile, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Profile{}, domainError(http.StatusNotFound, "not_found", "Profile not found", nil)
	}
	return profile, err
}

func (s *Service) ListDrafts(ctx context.Context, ownerID string) ([]store.Draft, error) {
	return s.store.ListDrafts(ctx, ownerID)
}

func (s *Service) GetDraft(ctx context.Context, ownerID, draftID string) (store.Draft, error) {
	draft, err := s.store.GetDraft(ctx, ownerID, draftID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Draft{}, errNotFound
	}
	return draft, err
}

func (s *Service) CreateDraft(ctx context.Context, ownerID string, in store.DraftInput) (store.Draft, error) {
	if in.Status != nil && !store.ValidDraftStatus(*in.Status) {
		return store.Draft{}, errInvalidStatus
	}
	draft, err := s.store.CreateDraft(ctx, ownerID, in)
	if err != nil {
		return store.Draft{}, err
	}
	s.index(draft)
	return draft, nil
}

func (s *Service) UpdateDraft(ctx context.Context, ownerID, draftID string, patch store.DraftPatch) (store.Draft, error) {
	if patch.Empty() {
		return store.Draft{}, errNoFields
	}
	if patch.Status != nil && !store.ValidDraftStatus(*patch.Status) {
		return store.Draft{}, errInvalidStatus
	}
	draft, err := s.store.UpdateDraft(ctx, ownerID, draftID, patch)
	switch {
	case errors.Is(err, store.ErrNoFields):
		return store.Draft{}, errNoFields
	case errors.Is(err, store.ErrNotFound):
		return store.Draft{}, errNotFound
	case errors.Is(err, store.ErrVersionConflict):
		return store.Draft{}, errVersionConflict
	case err != nil:
		return store.Draft{}, err
	}
	s.index(draft)
	return draft, nil
}

func (s *Service) DeleteDraft(ctx context.Context, ownerID, draftID string) error {
	changed, err := s.store.SoftDeleteDraft(ctx, ownerID, draftID)
	if err != nil {
		return err
	}
	if changed && s.search != nil {
		s.search.DeleteDraft(draftID)
	}
	return nil
}

func (s *Service) SearchDrafts(ctx context.Context, ownerID string, q search.Query) search.Response {
	q.OwnerID = ownerID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) index(draft store.Draft) {
	if s.search != nil {
		s.search.IndexDraft(draft)
	}
}
