package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"freetime/internal/domain"
)

func TestSource_NotifiesOnChangeOnly(t *testing.T) {
	s := NewSource()
	assert.Nil(t, s.Current())

	var got []*domain.Identity
	cancel := s.Subscribe(func(id *domain.Identity) { got = append(got, id) })

	alice := &domain.Identity{ID: "alice"}
	s.Set(alice)
	s.Set(&domain.Identity{ID: "alice"}) // same value
	s.Set(nil)
	s.Set(nil)

	assert.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].ID)
	assert.Nil(t, got[1])

	cancel()
	s.Set(alice)
	assert.Len(t, got, 2)
	assert.Equal(t, "alice", s.Current().ID)
}

func TestSource_CurrentIsACopy(t *testing.T) {
	s := NewSource()
	s.Set(&domain.Identity{ID: "alice"})
	c := s.Current()
	c.ID = "mallory"
	assert.Equal(t, "alice", s.Current().ID)
}
