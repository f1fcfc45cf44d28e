package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

const (
	stateLength = 32
	stateTTL    = 10 * time.Minute
)

// generateState generates a cryptographically secure random state string.
func generateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

type pendingState struct {
	userID   string
	issuedAt time.Time
}

// stateStore binds OAuth state values to the user who started the flow.
// Each state is single use and expires after stateTTL.
type stateStore struct {
	mu      sync.Mutex
	entries map[string]pendingState
	now     func() time.Time
}

func newStateStore() *stateStore {
	return &stateStore{entries: make(map[string]pendingState), now: time.Now}
}

func (s *stateStore) issue(userID string) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.entries {
		if now.Sub(v.issuedAt) > stateTTL {
			delete(s.entries, k)
		}
	}
	s.entries[state] = pendingState{userID: userID, issuedAt: now}
	return state, nil
}

// consume returns the user bound to state and forgets it.
func (s *stateStore) consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return "", false
	}
	delete(s.entries, state)
	if s.now().Sub(entry.issuedAt) > stateTTL {
		return "", false
	}
	return entry.userID, true
}

func (s *stateStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
