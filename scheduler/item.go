package scheduler

import (
	"time"

	"github.com/minios-linux/pagetrans/segment"
)

// WorkItem is one schedulable unit of text awaiting translation.
type WorkItem struct {
	// ID is the dedup identity derived from the normalized text.
	ID string
	// Text is the exact string sent to the translator.
	Text string
	// Priority orders dispatch; higher goes first, ties keep insertion order.
	Priority int
	// EnqueuedAt is when the item was created.
	EnqueuedAt time.Time
	// RetryCount counts failed attempts so far.
	RetryCount int
}

// NewWorkItem creates a work item whose ID is derived from text.
func NewWorkItem(text string, priority int) WorkItem {
	return WorkItem{
		ID:         segment.Key(text),
		Text:       text,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
}

// State is the dispatch state of a scheduler.
type State int

const (
	// Idle means no dispatch loop is active.
	Idle State = iota
	// Draining means the dispatch loop is pulling items from the queue.
	Draining
	// Paused means dispatch was halted externally; the queue is retained.
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Paused:
		return "paused"
	}
	return "unknown"
}
