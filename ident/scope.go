package ident

import (
	"sync"
	"time"
)

// Clock issues strictly increasing stamps.
type Clock interface {
	Next() int64
}

type systemClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// SystemClock returns a Clock of wall-clock microseconds that never repeats
// or goes backwards.
func SystemClock() Clock {
	return &systemClock{now: time.Now}
}

func (c *systemClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := c.now().UnixMicro()
	if stamp <= c.last {
		stamp = c.last + 1
	}
	c.last = stamp
	return stamp
}

// CounterClock is a deterministic Clock, mostly for tests.
type CounterClock struct {
	mu   sync.Mutex
	next int64
}

// NewCounterClock returns a clock whose first stamp is start.
func NewCounterClock(start int64) *CounterClock {
	return &CounterClock{next: start}
}

func (c *CounterClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := c.next
	c.next++
	return stamp
}

// ClockEntry is a vector-clock entry: who last wrote a node or edge, from
// which change set, and when.
type ClockEntry struct {
	ChangeSet ChangeSetID `json:"change_set"`
	Actor     ActorID     `json:"actor"`
	Stamp     int64       `json:"stamp"`
}

// Compare orders entries by stamp, then change set, then actor.
func (e ClockEntry) Compare(other ClockEntry) int {
	switch {
	case e.Stamp < other.Stamp:
		return -1
	case e.Stamp > other.Stamp:
		return 1
	}
	if c := e.ChangeSet.Compare(other.ChangeSet); c != 0 {
		return c
	}
	return e.Actor.Compare(other.Actor)
}

// Scope is the explicit edit context: which workspace and change set an edit
// belongs to, and which actor performs it.
type Scope struct {
	Workspace WorkspaceID
	ChangeSet ChangeSetID
	Actor     ActorID

	clock Clock
}

// NewScope builds a scope backed by the system clock.
func NewScope(workspace WorkspaceID, changeSet ChangeSetID, actor ActorID) Scope {
	return Scope{Workspace: workspace, ChangeSet: changeSet, Actor: actor, clock: SystemClock()}
}

// WithClock returns a copy of s that stamps with clock.
func (s Scope) WithClock(clock Clock) Scope {
	s.clock = clock
	return s
}

// WithChangeSet returns a copy of s for another change set, sharing the clock.
func (s Scope) WithChangeSet(changeSet ChangeSetID) Scope {
	s.ChangeSet = changeSet
	return s
}

// Tick returns a fresh clock entry for a write made in this scope.
func (s Scope) Tick() ClockEntry {
	clock := s.clock
	if clock == nil {
		clock = defaultClock
	}
	return ClockEntry{ChangeSet: s.ChangeSet, Actor: s.Actor, Stamp: clock.Next()}
}

var defaultClock = SystemClock()
