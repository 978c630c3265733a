// Package pending holds the one destructive admin command each admin
// session may have waiting for confirmation.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kinds of confirmable actions.
const (
	KindResetHWID      = "reset_hwid"
	KindDeleteUserKeys = "delete_user_keys"
	KindAddDaysAll     = "add_days_all"
)

var (
	ErrNone          = errors.New("no pending action")
	ErrTokenMismatch = errors.New("confirmation token does not match")
)

// Action is a staged command. Only the fields its Kind needs are set.
type Action struct {
	Token     string    `json:"token"`
	Kind      string    `json:"kind"`
	UserID    int64     `json:"userId,omitempty"`
	HWID      string    `json:"hwid,omitempty"`
	Days      int       `json:"days,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Store struct {
	mu      sync.Mutex
	actions map[int64]Action
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		actions: make(map[int64]Action),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Put stages a for adminID, replacing any earlier action, and returns it
// with its confirmation token and expiry set.
func (s *Store) Put(adminID int64, a Action) Action {
	now := s.now()
	a.Token = uuid.NewString()
	a.CreatedAt = now
	a.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	s.actions[adminID] = a
	s.mu.Unlock()
	return a
}

// Get returns the live action for adminID.
func (s *Store) Get(adminID int64) (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[adminID]
	if !ok {
		return Action{}, false
	}
	if !s.now().Before(a.ExpiresAt) {
		delete(s.actions, adminID)
		return Action{}, false
	}
	return a, true
}

// Take removes and returns the action for adminID if token matches. An empty
// token accepts whatever is pending.
func (s *Store) Take(adminID int64, token string) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[adminID]
	if !ok || !s.now().Before(a.ExpiresAt) {
		delete(s.actions, adminID)
		return Action{}, ErrNone
	}
	if token != "" && token != a.Token {
		return Action{}, ErrTokenMismatch
	}
	delete(s.actions, adminID)
	return a, nil
}

// Clear drops any action for adminID and reports whether one was pending.
func (s *Store) Clear(adminID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.actions[adminID]
	delete(s.actions, adminID)
	return ok
}

// Len counts staged actions, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, a := range s.actions {
		if !now.Before(a.ExpiresAt) {
			delete(s.actions, id)
		}
	}
}

// RunJanitor drops expired actions every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}
