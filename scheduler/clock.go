package scheduler

import "time"

// Clock is the time source of a scheduler. Tests substitute a virtual clock
// so pacing can be checked without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Recorder receives scheduler events for metrics. All methods are called
// outside the scheduler lock.
type Recorder interface {
	Enqueued()
	Dispatched()
	Succeeded(tokens int)
	Retried()
	Abandoned()
	// Waited reports one stall before a dispatch: how long the loop was held
	// back and the reason in effect when it was released.
	Waited(reason string, d time.Duration)
	QueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) Enqueued() {}
func (nopRecorder) Dispatched() {}
func (nopRecorder) Succeeded(int) {}
func (nopRecorder) Retried() {}
func (nopRecorder) Abandoned() {}
func (nopRecorder) Waited(string, time.Duration) {}
func (nopRecorder) QueueDepth(int) {}
