package download

import (
	"time"

	"github.com/ZebulonRouseFrantzich/keel/internal/clock"
)

// Progress is a download progress event.
type Progress struct {
	StartedAt   time.Time
	Elapsed     time.Duration
	Transferred int64
	// Total is zero when the size is unknown.
	Total   int64
	Percent float64
	// Speed is the instantaneous rate in bytes per second.
	Speed     float64
	Remaining time.Duration
}

// ProgressFunc receives progress events.
type ProgressFunc func(Progress)

// progressTracker throttles events to one per interval. The terminal event is
// always delivered.
type progressTracker struct {
	clock    clock.Clock
	interval time.Duration
	emit     ProgressFunc

	started   time.Time
	lastEmit  time.Time
	lastBytes int64
	done      bool
}

func newProgressTracker(c clock.Clock, interval time.Duration, emit ProgressFunc) *progressTracker {
	now := c.Now()
	return &progressTracker{
		clock:    c,
		interval: interval,
		emit:     emit,
		started:  now,
		lastEmit: now,
	}
}

// update is called with the running byte count. total is -1 or 0 when unknown.
func (p *progressTracker) update(transferred, total int64) {
	if p.emit == nil || p.done {
		return
	}
	if total < 0 {
		total = 0
	}

	now := p.clock.Now()
	terminal := total > 0 && transferred >= total
	if !terminal && now.Sub(p.lastEmit) < p.interval {
		return
	}

	ev := Progress{
		StartedAt:   p.started,
		Elapsed:     now.Sub(p.started),
		Transferred: transferred,
		Total:       total,
	}
	if window := now.Sub(p.lastEmit); window > 0 {
		ev.Speed = float64(transferred-p.lastBytes) / window.Seconds()
	}
	if total > 0 {
		ev.Percent = float64(transferred) / float64(total) * 100
		if ev.Percent > 100 {
			ev.Percent = 100
		}
		if ev.Speed > 0 && transferred < total {
			ev.Remaining = time.Duration(float64(total-transferred) / ev.Speed * float64(time.Second))
		}
	}

	p.lastEmit = now
	p.lastBytes = transferred
	p.done = terminal
	p.emit(ev)
}

// finish delivers the terminal event for streams of unknown length.
func (p *progressTracker) finish(transferred int64) {
	p.update(transferred, transferred)
}
