package core

import (
	"fmt"
	"sync"
)

// ModelLimiter bounds reasoning-engine calls per session. Each session id
// has its own budget, so one participant can serve several sessions.
type ModelLimiter struct {
	max int

	mu     sync.Mutex
	counts map[string]int
}

// NewModelLimiter creates a limiter allowing max calls per session.
// If max == 0, unlimited calls are allowed.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max, counts: make(map[string]int)}
}

// Increment counts one call for sessionID and returns an error wrapping
// ErrModelLimit once the session's budget is exceeded.
func (ml *ModelLimiter) Increment(sessionID string) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.counts[sessionID]++
	if ml.max > 0 && ml.counts[sessionID] > ml.max {
		return fmt.Errorf("%w: %d calls in session %q", ErrModelLimit, ml.max, sessionID)
	}

	return nil
}

// Count returns the calls made in sessionID.
func (ml *ModelLimiter) Count(sessionID string) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	return ml.counts[sessionID]
}

// Remaining returns how many calls sessionID has left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining(sessionID string) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max == 0 {
		return -1
	}

	return max(ml.max-ml.counts[sessionID], 0)
}

// Reset drops the budget of a finished session.
func (ml *ModelLimiter) Reset(sessionID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	delete(ml.counts, sessionID)
}
