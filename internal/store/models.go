package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrNoFields        = errors.New("no updatable fields")
	ErrVersionConflict = errors.New("draft version conflict")
)

const (
	DraftStatusDraft   = "draft"
	DraftStatusDeleted = "deleted"

	DefaultDraftTitle = "Untitled Draft"
	DefaultPlan       = "free"
	ProviderGoogle    = "google"
	ProviderPassword  = "password"
)

type User struct {
	ID           string
	Email        string
	FullName     *string
	PasswordHash *string
	AvatarURL    *string
	Provider     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type NewUser struct {
	Email        string
	PasswordHash *string
	FullName     *string
	AvatarURL    *string
	Provider     *string
}

type Profile struct {
	ID        string
	Email     string
	FullName  *string
	AvatarURL *string
	Plan      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Draft struct {
	ID          string
	UserID      string
	Title       string
	Content     string
	Description string
	Status      string
	Mode        string
	Version     int64
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DraftInput carries the optional fields of a new draft; nil means "use the default".
type DraftInput struct {
	Title       *string
	Content     *string
	Description *string
	Status      *string
	Mode        *string
}

// DraftPatch is the allow-list of fields an owner may change. Version, when set,
// makes the update conditional on the stored version.
type DraftPatch struct {
	Title       *string
	Content     *string
	Description *string
	Status      *string
	Mode        *string
	Version     *int64
}

func (p DraftPatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Description == nil && p.Status == nil && p.Mode == nil
}

func ValidDraftStatus(status string) bool {
	return status == DraftStatusDraft || status == DraftStatusDeleted
}
