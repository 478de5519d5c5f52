// Package storetest holds the behaviour every store.Repository must show,
// written once as a testify suite and run against each backend.
package storetest

import (
	"sync"
	"time"
)

// ElectionDay is the in-person date of elections created by the suite.
var ElectionDay = time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

// Clock is a settable time source shared by the repository and the engine.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
