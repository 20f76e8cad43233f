// Package authpw provides email/password sign-up and sign-in.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/srinithinsomasundaram/thamly-sub000/internal/store"
)

const MinPasswordLength = 8

var (
	ErrEmailPasswordRequired = errors.New("email and password are required")
	ErrPasswordTooShort      = errors.New("password must be at least 8 characters")
	ErrInvalidEmail          = errors.New("email address is invalid")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid email or password")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.NewUser) (store.User, error)
}

// Service provides email/password authentication
type Service struct {
	store  UserStore
	hasher *Hasher
	// dummy is verified against when the email is unknown so both paths cost one KDF run.
	dummy string
}

func NewService(users UserStore, hasher *Hasher) (*Service, error) {
	if hasher == nil {
		hasher = NewHasher()
	}
	dummy, err := hasher.Hash("thamly-timing-equaliser")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Service{store: users, hasher: hasher, dummy: dummy}, nil
}

// NormalizeEmail lowercases and trims an address the way it is stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates a password account together with its profile.
func (s *Service) SignUp(ctx context.Context, email, password string, fullName *string) (store.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrEmailPasswordRequired
	}
	if !validEmail(email) {
		return store.User{}, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return store.User{}, ErrPasswordTooShort
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	if fullName != nil {
		trimmed := strings.TrimSpace(*fullName)
		if trimmed == "" {
			fullName = nil
		} else {
			fullName = &trimmed
		}
	}
	provider := store.ProviderPassword

	user, err := s.store.CreateUser(ctx, store.NewUser{
		Email:        email,
		PasswordHash: &hash,
		FullName:     fullName,
		Provider:     &provider,
	})
	if errors.Is(err, store.ErrEmailTaken) {
		return store.User{}, ErrEmailTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by password. Unknown emails, accounts without a
// password and wrong passwords all yield ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrEmailPasswordRequired
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		_, _ = s.hasher.Verify(password, s.dummy)
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == nil || *user.PasswordHash == "" {
		_, _ = s.hasher.Verify(password, s.dummy)
		return store.User{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		return store.User{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
