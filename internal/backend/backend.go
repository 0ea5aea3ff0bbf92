// Package backend routes reads and writes to exactly one store: the local
// key/value store for anonymous use, or the remote document store of the
// signed-in user.
package backend

import (
	"context"

	"freetime/internal/domain"
)

// Consistency describes when a write becomes visible to reads.
type Consistency int

const (
	// Immediate backends reflect a write in reads as soon as it returns.
	Immediate Consistency = iota
	// Eventual backends reflect a write only once the store's subscription
	// delivers the next snapshot.
	Eventual
)

func (c Consistency) String() string {
	if c == Eventual {
		return "eventual"
	}
	return "immediate"
}

// Backend is one persistence strategy. Implementations never return
// transport or storage failures; they log and degrade. The only error is
// ports.ErrNotFound for an unknown id or name.
type Backend interface {
	Name() string
	Consistency() Consistency

	Sessions() []domain.Session
	Refs(kind domain.RefKind) []string
	DailyGoal() float64

	InsertSession(ctx context.Context, s domain.Session) error
	UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) error
	DeleteSession(ctx context.Context, id string) error

	AddRef(ctx context.Context, kind domain.RefKind, name string) error
	RenameRef(ctx context.Context, kind domain.RefKind, oldName, newName string) error
	DeleteRef(ctx context.Context, kind domain.RefKind, name string) error

	SetDailyGoal(ctx context.Context, hours float64) error
}
