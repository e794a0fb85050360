package auth_tools

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateTTL bounds how long a login URL stays redeemable.
const StateTTL = 10 * time.Minute

// stateStore remembers the OAuth state values handed out with login URLs.
type stateStore struct {
	mu     sync.Mutex
	issued map[string]time.Time
	now    func() time.Time
}

func newStateStore(now func() time.Time) *stateStore {
	if now == nil {
		now = time.Now
	}
	return &stateStore{issued: make(map[string]time.Time), now: now}
}

func (s *stateStore) issue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	state := uuid.NewString()
	s.issued[state] = s.now().Add(StateTTL)
	return state
}

// consume reports whether state was issued and has not expired. A state
// is accepted once.
func (s *stateStore) consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if _, ok := s.issued[state]; !ok || state == "" {
		return false
	}
	delete(s.issued, state)
	return true
}

func (s *stateStore) prune() {
	now := s.now()
	for state, expires := range s.issued {
		if !now.Before(expires) {
			delete(s.issued, state)
		}
	}
}
