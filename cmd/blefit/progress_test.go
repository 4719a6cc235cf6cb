package main

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestProgressPrinterCountdown(t *testing.T) {
	// GOAL: Verify the status line counts down on the injected clock and is cleared on Stop
	//
	// TEST SCENARIO: 30s countdown → status set → refresh shows it; Stop → clear sequence last

	clk := clock.NewMock()
	out := &syncBuffer{}
	p := NewProgressPrinter(out, "Scanning...", 30*time.Second, clk)
	p.Start()
	assert.Contains(t, out.String(), "Scanning... (30s left)")

	p.SetStatus("1 found")
	assert.Eventually(t, func() bool {
		clk.Add(progressUpdateInterval)
		return strings.Contains(out.String(), "Scanning... 1 found (")
	}, 5*time.Second, time.Millisecond, "status MUST appear on the next refresh")

	p.Stop()
	p.Stop()
	assert.True(t, strings.HasSuffix(out.String(), clearLineSequence), "Stop MUST clear the line")
}

func TestProgressPrinterStartTwicePanics(t *testing.T) {
	p := NewProgressPrinter(&syncBuffer{}, "x", 0, clock.NewMock())
	p.Start()
	defer p.Stop()
	assert.Panics(t, p.Start)
}
