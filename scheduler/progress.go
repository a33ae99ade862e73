package scheduler

import "math"

// Progress is the aggregate view reported to observers.
type Progress struct {
	// Current counts items that left the pipeline (succeeded or abandoned).
	Current int
	// Total is Current plus the items still queued.
	Total int
	// Percentage is Current/Total rounded to a whole percent, 0 when Total is 0.
	Percentage int
	// IsActive reports whether the dispatch loop is draining.
	IsActive bool
}

// Report derives a Progress from scheduler counters.
func Report(processed, queued int, state State) Progress {
	total := processed + queued
	p := Progress{
		Current:  processed,
		Total:    total,
		IsActive: state == Draining,
	}
	if total > 0 {
		p.Percentage = int(math.Round(float64(processed) / float64(total) * 100))
	}
	return p
}
