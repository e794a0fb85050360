package confirmserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teemow/mailgate/internal/confirm"
)

// pendingAction is one action awaiting a human in the browser.
type pendingAction struct {
	id        string
	code      string
	display   confirm.Display
	confirmed bool
	createdAt time.Time
	limiter   *rate.Limiter
}

// store holds pending actions in memory. Nothing survives a restart.
type store struct {
	mu        sync.Mutex
	actions   map[string]*pendingAction
	retention time.Duration
	limit     rate.Limit
	burst     int
	now       func() time.Time
}

func newStore(retention time.Duration, limit rate.Limit, burst int, now func() time.Time) *store {
	return &store{
		actions:   make(map[string]*pendingAction),
		retention: retention,
		limit:     limit,
		burst:     burst,
		now:       now,
	}
}

func (s *store) create(display confirm.Display) (*pendingAction, error) {
	code, err := confirm.GenerateCode()
	if err != nil {
		return nil, err
	}
	a := &pendingAction{
		id:        uuid.NewString(),
		code:      code,
		display:   display,
		createdAt: s.now(),
		limiter:   rate.NewLimiter(s.limit, s.burst),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.actions[a.id] = a
	return a, nil
}

// get returns a copy of the action so callers can read it unlocked.
func (s *store) get(id string) (pendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return pendingAction{}, false
	}
	return *a, true
}

// submit checks a human-entered code. A mismatch leaves the action
// pending so the human can retry. allowed is false when the action's
// submission limit is exhausted.
func (s *store) submit(id, code string) (found, allowed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, exists := s.actions[id]
	if !exists {
		return false, false, false
	}
	if !a.limiter.AllowN(s.now(), 1) {
		return true, false, false
	}
	if !confirm.CodesEqual(code, a.code) {
		return true, true, false
	}
	a.confirmed = true
	return true, true, true
}

func (s *store) confirmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	return ok && a.confirmed
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// pruneLocked drops actions older than the retention window.
func (s *store) pruneLocked() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	for id, a := range s.actions {
		if a.createdAt.Before(cutoff) {
			delete(s.actions, id)
		}
	}
}
