package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/miniclick/calltrack/internal/tracker/progress"
)

// TermReporter draws progress on one rewritten terminal line. On a
// non-terminal writer it prints only start and end lines.
type TermReporter struct {
	w   io.Writer
	tty bool

	mu        sync.Mutex
	operation string
	started   time.Time
	lastDraw  time.Time
	width     int
}

// NewTermReporter creates a reporter writing to w.
func NewTermReporter(w io.Writer) *TermReporter {
	r := &TermReporter{w: w, width: 80}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.tty = true
		if wd, _, err := term.GetSize(int(f.Fd())); err == nil && wd > 20 {
			r.width = wd
		}
	}
	return r
}

var _ progress.Reporter = (*TermReporter)(nil)

// Start implements progress.Reporter.
func (r *TermReporter) Start(operation string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operation = operation
	r.started = time.Now()
	r.lastDraw = time.Time{}
	if !r.tty {
		fmt.Fprintf(r.w, "%s %s\n", RenderAccent("→"), operation)
		return
	}
	r.draw(0, total, "")
}

// Update implements progress.Reporter.
func (r *TermReporter) Update(done, total int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tty || time.Since(r.lastDraw) < 50*time.Millisecond {
		return
	}
	r.draw(done, total, message)
}

// End implements progress.Reporter.
func (r *TermReporter) End(status progress.Status, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tty {
		fmt.Fprint(r.w, "\r\033[K")
	}
	mark := RenderPass("✓")
	switch status {
	case progress.StatusFailed:
		mark = RenderFail("✗")
	case progress.StatusCancelled:
		mark = RenderWarn("⚠")
	}
	elapsed := time.Since(r.started).Round(time.Millisecond)
	line := fmt.Sprintf("%s %s %s", mark, r.operation, RenderMuted(elapsed.String()))
	if message != "" {
		line += " " + message
	}
	fmt.Fprintln(r.w, line)
}

func (r *TermReporter) draw(done, total int, message string) {
	r.lastDraw = time.Now()
	var counter string
	if total > 0 {
		counter = fmt.Sprintf("%s/%s", Count(done), Count(total))
	} else if done > 0 {
		counter = Count(done)
	}
	line := strings.TrimSpace(fmt.Sprintf("%s %s %s %s", RenderAccent("…"), r.operation, counter, message))
	if w := r.width - 1; len(line) > w {
		line = line[:w]
	}
	fmt.Fprintf(r.w, "\r\033[K%s", line)
}
