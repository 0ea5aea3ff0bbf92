package ports

import (
	"context"
	"errors"

	"freetime/internal/domain"
)

// ErrNotFound is returned when a scoped record does not exist for the user.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a reference name is already taken by the user.
var ErrConflict = errors.New("name already exists")

// KV is raw key/value persistence for the local backend.
type KV interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	// Watch reports keys changed by another writer until ctx is done.
	Watch(ctx context.Context, fn func(key string, value []byte)) error
}

// RemoteStore is the per-user document store used when signed in.
// Every method is scoped to userID; records of other users are invisible.
type RemoteStore interface {
	InsertSession(ctx context.Context, userID string, s domain.Session) (string, error)
	UpdateSession(ctx context.Context, userID, id string, patch domain.SessionPatch) error
	DeleteSession(ctx context.Context, userID, id string) error
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)

	AddRef(ctx context.Context, userID string, kind domain.RefKind, name string) (string, error)
	// RenameRef renames the entry and rewrites the matching label of every
	// session of the user in the same unit of work.
	RenameRef(ctx context.Context, userID string, kind domain.RefKind, id, oldName, newName string) error
	DeleteRef(ctx context.Context, userID string, kind domain.RefKind, id string) error
	ListRefs(ctx context.Context, userID string, kind domain.RefKind) ([]domain.RefEntry, error)

	EnsureProfile(ctx context.Context, id domain.Identity) (domain.Profile, error)
	SaveSettings(ctx context.Context, userID string, s domain.Settings) error

	Subscriber
}

// Subscriber delivers full snapshots of a user's collections. Each call
// delivers the current state once, then again after every change, until
// the returned cancel func is called. Session snapshots are ordered by
// start time, newest first.
type Subscriber interface {
	SubscribeSessions(userID string, fn func([]domain.Session)) (cancel func())
	SubscribeRefs(userID string, kind domain.RefKind, fn func([]domain.RefEntry)) (cancel func())
	SubscribeSettings(userID string, fn func(domain.Settings)) (cancel func())
}
