// Package progress reports run progress and carries a cancellation flag
// from the front end to the engine.
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Monitor receives progress units and answers whether the user cancelled.
// Implementations must be safe for use from the engine's worker goroutine
// while the front end calls Cancel.
type Monitor interface {
	Begin(name string, totalUnits int)
	SubTask(name string)
	Worked(units int)
	Cancelled() bool
	Done()
}

// Tracker is a Monitor that counts units and can be cancelled. Embed it to
// build front-end monitors.
type Tracker struct {
	mu        sync.Mutex
	name      string
	task      string
	total     int
	worked    int
	done      bool
	cancelled atomic.Bool
}

func (t *Tracker) Begin(name string, totalUnits int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name, t.total, t.worked, t.done = name, totalUnits, 0, false
}

func (t *Tracker) SubTask(name string) {
	t.mu.Lock()
	t.task = name
	t.mu.Unlock()
}

func (t *Tracker) Worked(units int) {
	t.mu.Lock()
	t.worked += units
	t.mu.Unlock()
}

func (t *Tracker) Cancelled() bool { return t.cancelled.Load() }

func (t *Tracker) Done() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

// Cancel requests cancellation.
func (t *Tracker) Cancel() { t.cancelled.Store(true) }

// Snapshot is a point-in-time copy of a Tracker.
type Snapshot struct {
	Name   string
	Task   string
	Total  int
	Worked int
	Done   bool
}

// Fraction returns worked/total clamped to [0,1]. Totals are estimates.
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Worked) / float64(s.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Name: t.name, Task: t.task, Total: t.total, Worked: t.worked, Done: t.done}
}

// Console is a Tracker that prints sub-task changes to a writer.
type Console struct {
	Tracker
	W io.Writer
}

func (c *Console) Begin(name string, totalUnits int) {
	c.Tracker.Begin(name, totalUnits)
	fmt.Fprintf(c.W, "▶ %s (%d units)\n", name, totalUnits)
}

func (c *Console) SubTask(name string) {
	c.Tracker.SubTask(name)
	s := c.Snapshot()
	fmt.Fprintf(c.W, "  [%3.0f%%] %s\n", s.Fraction()*100, name)
}

// Noop ignores progress and is never cancelled.
type Noop struct{}

func (Noop) Begin(string, int) {}
func (Noop) SubTask(string)    {}
func (Noop) Worked(int)        {}
func (Noop) Cancelled() bool   { return false }
func (Noop) Done()             {}
