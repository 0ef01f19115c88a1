package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator hands out record ids derived from the creation time in
// milliseconds. Ids are strictly increasing: a second record created in the
// same millisecond gets the previous id plus one.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator creates a generator reading the given clock.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns a fresh record id.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// Observe makes sure later ids are greater than id. Call it with ids loaded
// from storage so a restarted process never reissues one.
func (g *IDGenerator) Observe(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.last {
		g.last = id
	}
}

func newWorkItemID() string {
	return uuid.NewString()
}
