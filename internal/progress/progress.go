// Package progress provides sinks for per-tensor conversion progress.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/samcharles93/requant/internal/logger"
)

// Reporter receives a monotonically increasing current/total update after
// each processed tensor. Reporters never influence control flow.
type Reporter interface {
	Update(current, total int)
}

// Func adapts a function to a Reporter.
type Func func(current, total int)

func (f Func) Update(current, total int) { f(current, total) }

// Nop discards updates.
type Nop struct{}

func (Nop) Update(int, int) {}

// Multi fans an update out to several reporters.
func Multi(rs ...Reporter) Reporter {
	return Func(func(current, total int) {
		for _, r := range rs {
			if r != nil {
				r.Update(current, total)
			}
		}
	})
}

// Log reports through the logger every Step percent and at completion.
type Log struct {
	Logger  logger.Logger
	Message string
	Step    int

	mu   sync.Mutex
	last int
}

func NewLog(log logger.Logger, message string) *Log {
	return &Log{Logger: log, Message: message, Step: 10, last: -1}
}

func (l *Log) Update(current, total int) {
	if total <= 0 {
		return
	}
	step := l.Step
	if step <= 0 {
		step = 10
	}
	pct := current * 100 / total
	bucket := pct / step

	l.mu.Lock()
	emit := bucket > l.last || current == total
	if emit {
		l.last = bucket
	}
	l.mu.Unlock()

	if emit && l.Logger != nil {
		l.Logger.Info(l.Message, "current", current, "total", total, "percent", pct)
	}
}

// Snapshot is a point-in-time view of a Tracker.
type Snapshot struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Tracker keeps the latest update for polling from another goroutine.
type Tracker struct {
	current atomic.Int64
	total   atomic.Int64
}

func (t *Tracker) Update(current, total int) {
	t.total.Store(int64(total))
	t.current.Store(int64(current))
}

func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{Current: int(t.current.Load()), Total: int(t.total.Load())}
}
