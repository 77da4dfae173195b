package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/samcharles93/requant/internal/logger"
)

const defaultTermWidth = 80

// Bar renders a single-line progress bar, redrawing at most every interval.
type Bar struct {
	mu       sync.Mutex
	w        io.Writer
	fd       int
	message  string
	interval time.Duration
	started  time.Time
	drawn    time.Time
	done     bool
}

// NewBar writes to w. When w is a terminal its width sizes the bar.
func NewBar(w io.Writer, message string) *Bar {
	fd := -1
	if f, ok := w.(*os.File); ok {
		fd = int(f.Fd())
	}
	return &Bar{
		w:        w,
		fd:       fd,
		message:  message,
		interval: 100 * time.Millisecond,
		started:  time.Now(),
	}
}

// ForStderr returns a Bar on stderr when it is a terminal, else a Log reporter.
func ForStderr(log logger.Logger, message string) Reporter {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return NewBar(os.Stderr, message)
	}
	return NewLog(log, message)
}

func (b *Bar) Update(current, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	finished := total > 0 && current >= total
	if !finished && time.Since(b.drawn) < b.interval {
		return
	}
	b.drawn = time.Now()
	_, _ = fmt.Fprintf(b.w, "\r%s", b.render(current, total))
	if finished {
		b.done = true
		_, _ = fmt.Fprintln(b.w)
	}
}

func (b *Bar) width() int {
	if b.fd >= 0 {
		if w, _, err := term.GetSize(b.fd); err == nil && w > 0 {
			return w
		}
	}
	return defaultTermWidth
}

func (b *Bar) render(current, total int) string {
	var pct float64
	if total > 0 {
		pct = float64(min(current, total)) / float64(total)
	}
	pre := fmt.Sprintf("%s %3.0f%% ", strings.TrimSpace(b.message), pct*100)
	suf := fmt.Sprintf(" %d/%d [%s]", current, total, time.Since(b.started).Round(time.Second))

	// two boundary characters
	f := b.width() - len(pre) - len(suf) - 2
	if f <= 0 {
		return pre + suf
	}
	n := int(float64(f) * pct)
	return pre + "▕" + strings.Repeat("█", n) + strings.Repeat(" ", f-n) + "▏" + suf
}
