package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps a single status line updated while a long-running command works.
//
// Usage:
//
//	p := NewProgressPrinter(w, "Scanning", 30*time.Second, clk)
//	p.Start()
//	defer p.Stop()
//
// With a zero duration the line shows elapsed time, otherwise the time left.
// A ProgressPrinter is single-use: Start may be called once, Stop any number of times.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	duration time.Duration
	clock    clock.Clock

	status   atomic.Value // string
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer writing to out.
func NewProgressPrinter(out io.Writer, prefix string, duration time.Duration, clk clock.Clock) *ProgressPrinter {
	if clk == nil {
		clk = clock.New()
	}
	p := &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		duration: duration,
		clock:    clk,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.status.Store("")
	return p
}

// SetStatus replaces the text shown after the prefix.
func (p *ProgressPrinter) SetStatus(status string) {
	p.status.Store(status)
}

// Start begins refreshing the line in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	start := p.clock.Now()
	p.print(start)

	go func() {
		defer close(p.done)
		ticker := p.clock.Ticker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.print(start)
			}
		}
	}()
}

// Stop halts the updates and clears the line.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
			_, _ = fmt.Fprint(p.out, clearLineSequence)
		}
	})
}

func (p *ProgressPrinter) print(start time.Time) {
	elapsed := p.clock.Since(start)
	var clockText string
	if p.duration > 0 {
		left := p.duration - elapsed
		if left < 0 {
			left = 0
		}
		clockText = fmt.Sprintf("%ds left", int(left.Round(time.Second).Seconds()))
	} else {
		clockText = fmt.Sprintf("%.1fs", elapsed.Seconds())
	}

	line := p.prefix
	if status, _ := p.status.Load().(string); status != "" {
		line += " " + status
	}
	_, _ = fmt.Fprintf(p.out, "%s%s (%s)", clearLineSequence, line, clockText)
}
