package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/schemahub/pkg/model"
)

func TestPresenceSyncReplacesWholesale(t *testing.T) {
	var notified []model.CollaborativeUser
	p := NewPresence(func(users []model.CollaborativeUser) { notified = users })

	p.Sync([]model.CollaborativeUser{
		{ID: "u1", Username: "alice"},
		{ID: "u2", Username: "bob"},
	})
	require.Len(t, p.Users(), 2)
	require.Len(t, notified, 2)

	// The next snapshot is authoritative; departed users simply vanish.
	p.Sync([]model.CollaborativeUser{{ID: "u2", Username: "bob"}})
	users := p.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "u2", users[0].ID)

	_, ok := p.Get("u1")
	assert.False(t, ok)
}

func TestPresenceFillsMissingColors(t *testing.T) {
	p := NewPresence(nil)
	p.Sync([]model.CollaborativeUser{
		{ID: "u1", Username: "alice"},
		{ID: "u2", Username: "bob", Color: "#123456"},
	})

	u1, ok := p.Get("u1")
	require.True(t, ok)
	assert.Equal(t, model.ColorFor("alice"), u1.Color)

	u2, _ := p.Get("u2")
	assert.Equal(t, "#123456", u2.Color, "explicit colors are preserved")
}

func TestPresenceUsersReturnsCopy(t *testing.T) {
	p := NewPresence(nil)
	p.Sync([]model.CollaborativeUser{{ID: "u1", Username: "alice", Status: model.StatusActive}})

	got := p.Users()
	got[0].Status = model.StatusIdle
	fresh := p.Users()
	assert.Equal(t, model.StatusActive, fresh[0].Status)
}
