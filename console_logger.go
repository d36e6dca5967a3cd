package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/cloudbees/browser-matrix-tests/framework"
	"github.com/cloudbees/browser-matrix-tests/matrix"
)

// ConsolePipelineLogger prints pipeline progress. Pipelines run concurrently, so each call writes
// its lines as one block.
type ConsolePipelineLogger struct {
	Out                  io.Writer
	DebugOutputOnFailure bool
	DebugOutputOnSuccess bool

	lock   sync.Mutex
	passed *color.Color
	failed *color.Color
	dim    *color.Color
}

func NewConsolePipelineLogger(out io.Writer, noColor bool) *ConsolePipelineLogger {
	c := &ConsolePipelineLogger{
		Out:    out,
		passed: color.New(color.FgGreen, color.Bold),
		failed: color.New(color.FgRed, color.Bold),
		dim:    color.New(color.FgHiBlack),
	}
	if noColor {
		c.passed.DisableColor()
		c.failed.DisableColor()
		c.dim.DisableColor()
	}
	return c
}

func (c *ConsolePipelineLogger) PipelineStarted(env matrix.EnvironmentDescriptor) {
	c.lock.Lock()
	defer c.lock.Unlock()
	fmt.Fprintf(c.Out, "[%s] started\n", env)
}

func (c *ConsolePipelineLogger) PipelineError(env matrix.EnvironmentDescriptor, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, line := range strings.Split(err.Error(), "\n") {
		fmt.Fprintf(c.Out, "  [%s] %s\n", env, line)
	}
}

func (c *ConsolePipelineLogger) PipelineFinished(result framework.PipelineResult) {
	c.lock.Lock()
	defer c.lock.Unlock()
	failed := !result.Succeeded()
	if failed {
		c.failed.Fprint(c.Out, "  FAILED")
	} else {
		c.passed.Fprint(c.Out, "  PASSED")
	}
	fmt.Fprintf(c.Out, ": %s", result.Environment)
	if result.SessionID != "" {
		c.dim.Fprintf(c.Out, " (session %s)", result.SessionID)
	}
	fmt.Fprintln(c.Out)
	if len(result.DebugOutput) > 0 &&
		((failed && c.DebugOutputOnFailure) || (!failed && c.DebugOutputOnSuccess)) {
		result.DebugOutput.Dump(c.Out, "    DEBUG ")
	}
}

func (c *ConsolePipelineLogger) PipelineSkipped(env matrix.EnvironmentDescriptor, reason string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if reason == "" {
		fmt.Fprintf(c.Out, "  SKIPPED: %s\n", env)
	} else {
		fmt.Fprintf(c.Out, "  SKIPPED: %s (%s)\n", env, reason)
	}
}
