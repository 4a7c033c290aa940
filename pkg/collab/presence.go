package collab

import (
	"sync"

	"github.com/mahaj/schemahub/pkg/model"
)

// Presence is the client-side projection of a workspace's roster. Every
// inbound roster message is a full authoritative snapshot, so the only
// operation is wholesale replacement; nothing is ever merged.
type Presence struct {
	mu       sync.RWMutex
	users    []model.CollaborativeUser
	onChange func([]model.CollaborativeUser)
}

func NewPresence(onChange func([]model.CollaborativeUser)) *Presence {
	return &Presence{onChange: onChange}
}

// Sync replaces the roster. Missing colors are filled deterministically from
// the username so a roster entry never renders uncolored.
func (p *Presence) Sync(users []model.CollaborativeUser) {
	copied := make([]model.CollaborativeUser, len(users))
	copy(copied, users)
	for i := range copied {
		if copied[i].Color == "" {
			copied[i].Color = model.ColorFor(copied[i].Username)
		}
	}

	p.mu.Lock()
	p.users = copied
	p.mu.Unlock()

	if p.onChange != nil {
		p.onChange(copied)
	}
}

// Users returns a copy of the current roster.
func (p *Presence) Users() []model.CollaborativeUser {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.CollaborativeUser, len(p.users))
	copy(out, p.users)
	return out
}

// Get looks up a roster entry by user id.
func (p *Presence) Get(userID string) (model.CollaborativeUser, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if u.ID == userID {
			return u, true
		}
	}
	return model.CollaborativeUser{}, false
}
