package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/blimp/internal/groutine"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressWriter returns w, or nil when w is a file that is not a
// terminal: redirected output should not collect carriage returns.
func progressWriter(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return w
}

// ProgressPrinter displays a one-line "prefix (phase Ns)" status on out,
// redrawn in place until Stop.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stderr, "Starting peripheral", "powering on", "ready")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. After Stop it cannot be restarted.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value        // string
	stopPhases map[string]struct{} // phases that stop the printer when set
	budget     time.Duration       // > 0 counts down from budget, otherwise counts up

	mu        sync.Mutex // serializes writes to out
	startTime time.Time
	started   atomic.Bool
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      <-chan struct{}
}

// NewProgressPrinter creates a printer that shows elapsed seconds.
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a printer that shows the seconds left
// of budget. It keeps showing 0s once the budget is spent.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, budget time.Duration, stopPhases ...string) *ProgressPrinter {
	p := NewProgressPrinter(out, prefix, phase, stopPhases...)
	p.budget = budget
	return p
}

// Start draws the first line and begins redrawing in the background.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	p.draw(p.Phase(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = groutine.Go(ctx, "progress-printer", p.loop)
}

func (p *ProgressPrinter) loop(ctx context.Context) {
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			phase := p.Phase()
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			p.draw(phase, p.seconds())
		}
	}
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.budget <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.budget - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second: 3.7s -> 4s, 3.3s -> 3s
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) draw(phase string, seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Phase returns the current phase name.
func (p *ProgressPrinter) Phase() string {
	return p.phase.Load().(string)
}

// SetPhase switches the displayed phase. Setting a stop phase stops the
// printer. Safe for concurrent use.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
	if _, stop := p.stopPhases[phase]; stop {
		p.Stop()
	}
}

// Stop ends the redraw loop and clears the line. Only the first call has
// an effect; calling Stop before Start is a no-op.
func (p *ProgressPrinter) Stop() {
	if !p.started.Load() {
		return
	}
	p.stopOnce.Do(func() {
		p.cancel()
		<-p.done

		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprint(p.out, clearLineSequence)
	})
}
