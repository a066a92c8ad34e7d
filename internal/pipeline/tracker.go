package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// Tracker keeps run counters and renders progress. Counter updates are
// atomic so workers can report concurrently; rendering is serialized. On a
// terminal the progress is a single rewritten line, otherwise each batch
// commit logs one slog line.
type Tracker struct {
	target int
	out    io.Writer
	isTTY  bool
	logger *slog.Logger

	start     time.Time
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	committed atomic.Int64

	mu sync.Mutex
}

// Summary is the final accounting for a run.
type Summary struct {
	Target    int           `json:"target"`
	Completed int           `json:"completed"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"-"`
}

// NewTracker builds a tracker writing progress to out. A nil out suppresses
// terminal rendering; logger nil falls back to slog.Default().
func NewTracker(target int, out io.Writer, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		target: target,
		out:    out,
		logger: logger,
		start:  time.Now(),
	}
	if f, ok := out.(*os.File); ok {
		t.isTTY = term.IsTerminal(int(f.Fd()))
	}
	return t
}

// Begin records pre-existing progress restored from a checkpoint.
func (t *Tracker) Begin(existing int) {
	t.committed.Store(int64(existing))
	t.start = time.Now()
	t.render()
}

// Attempt records one finished generation attempt.
func (t *Tracker) Attempt(success bool) {
	t.attempted.Add(1)
	if success {
		t.succeeded.Add(1)
	} else {
		t.failed.Add(1)
	}
	t.render()
}

// Committed records the durable total after a batch commit.
func (t *Tracker) Committed(total int) {
	t.committed.Store(int64(total))
	if t.isTTY {
		t.render()
		return
	}
	t.logger.Info("batch committed",
		"completed", total,
		"target", t.target,
		"attempted", t.attempted.Load(),
		"failed", t.failed.Load())
}

// Finish terminates the progress line.
func (t *Tracker) Finish() {
	if t.isTTY && t.out != nil {
		t.mu.Lock()
		fmt.Fprintln(t.out)
		t.mu.Unlock()
	}
}

// Summary returns the final counters.
func (t *Tracker) Summary() Summary {
	return Summary{
		Target:    t.target,
		Completed: int(t.committed.Load()),
		Attempted: int(t.attempted.Load()),
		Succeeded: int(t.succeeded.Load()),
		Failed:    int(t.failed.Load()),
		Elapsed:   time.Since(t.start),
	}
}

func (t *Tracker) render() {
	if !t.isTTY || t.out == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.start).Round(time.Second)
	fmt.Fprintf(t.out, "\rgenerating %d/%d | ok %d fail %d | %s ",
		t.committed.Load(), t.target, t.succeeded.Load(), t.failed.Load(), elapsed)
}
