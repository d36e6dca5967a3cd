package scenario

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cloudbees/browser-matrix-tests/errdefs"
	"github.com/cloudbees/browser-matrix-tests/framework"
	"github.com/cloudbees/browser-matrix-tests/webdriver"
)

const elementPollInterval = 250 * time.Millisecond

// Driver is the part of a remote session that a scenario uses.
type Driver interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, by webdriver.By) (webdriver.Element, error)
	ElementText(ctx context.Context, el webdriver.Element) (string, error)
}

// Executor runs a Spec. It implements framework.Executor for webdriver sessions.
type Executor struct {
	spec Spec
}

func NewExecutor(spec Spec) *Executor {
	return &Executor{spec: spec}
}

func (e *Executor) Spec() Spec { return e.spec }

// Run implements framework.Executor.
func (e *Executor) Run(ctx context.Context, session *webdriver.Session, logger framework.Logger) framework.Outcome {
	return e.RunDriver(ctx, session, logger)
}

// RunDriver runs the scenario against any Driver. It never panics and never returns an error:
// failed checks and automation errors are both reported in the Outcome.
func (e *Executor) RunDriver(ctx context.Context, d Driver, logger framework.Logger) (outcome framework.Outcome) {
	if logger == nil {
		logger = framework.NullLogger()
	}
	t := &T{ctx: ctx, driver: d, logger: logger, elementWait: e.spec.ElementWait}
	defer func() {
		if r := recover(); r != nil && r != t {
			t.execErr = &errdefs.ExecutionError{
				SessionID: d.ID(),
				Step:      t.step,
				Err:       fmt.Errorf("unexpected panic in scenario: %+v\n%s", r, string(debug.Stack())),
			}
		}
		outcome = t.outcome()
		logger.Printf("Scenario %q %s", e.spec.Name, outcome)
	}()

	logger.Printf("Running scenario %q", e.spec.Name)
	t.Navigate(e.spec.URL)
	for _, c := range e.spec.Checks {
		t.Check(c)
	}
	return
}

// T is the scenario's view of a running session. Its Errorf and FailNow methods let it be
// passed to testify assertions: a failed assertion is recorded as an assertion failure, while an
// error from the remote end stops the scenario and is recorded as an execution error.
type T struct {
	ctx         context.Context
	driver      Driver
	logger      framework.Logger
	elementWait time.Duration

	step     string
	failures []string
	execErr  error
}

// Errorf is called by assertions to log a failure. It does not stop the scenario.
func (t *T) Errorf(format string, args ...interface{}) {
	msg := reformatAssertion(fmt.Sprintf(format, args...))
	t.logger.Printf("Assertion failed: %s", msg)
	t.failures = append(t.failures, msg)
}

// FailNow stops the scenario immediately.
func (t *T) FailNow() {
	panic(t)
}

// requireNoError stops the scenario with an execution error if err is non-nil.
func (t *T) requireNoError(err error) {
	if err == nil {
		return
	}
	t.execErr = &errdefs.ExecutionError{SessionID: t.driver.ID(), Step: t.step, Err: err}
	t.logger.Printf("Execution error: %s", err)
	t.FailNow()
}

func (t *T) Navigate(url string) {
	t.step = "navigate to " + url
	t.requireNoError(t.driver.Navigate(t.ctx, url))
}

// Check runs one element check.
func (t *T) Check(c Check) {
	t.step = c.Description
	el, found := t.findElement(c.By)
	if !found {
		assert.Fail(t, fmt.Sprintf("%s: no element found by %s", c.Description, c.By))
		return
	}
	if c.TextPattern == nil {
		return
	}
	text, err := t.driver.ElementText(t.ctx, el)
	t.requireNoError(err)
	assert.Regexp(t, c.TextPattern, text, c.Description)
}

// findElement looks up an element, retrying until it appears or the element wait elapses. An
// element that never appears is not an execution error; the caller decides what that means.
func (t *T) findElement(by webdriver.By) (webdriver.Element, bool) {
	deadline := time.Now().Add(t.elementWait)
	for {
		el, err := t.driver.FindElement(t.ctx, by)
		if err == nil {
			return el, true
		}
		if !webdriver.IsNoSuchElement(err) {
			t.requireNoError(err)
		}
		if !time.Now().Before(deadline) {
			return webdriver.Element{}, false
		}
		select {
		case <-t.ctx.Done():
			t.requireNoError(fmt.Errorf("timed out waiting for element %s: %w", by, t.ctx.Err()))
		case <-time.After(elementPollInterval):
		}
	}
}

func (t *T) outcome() framework.Outcome {
	id := t.driver.ID()
	switch {
	case t.execErr != nil:
		return framework.ExecutionFailedOutcome(id, t.execErr)
	case len(t.failures) > 0:
		return framework.AssertionFailedOutcome(id, strings.Join(t.failures, "; "))
	default:
		return framework.PassedOutcome(id)
	}
}

// reformatAssertion reduces testify's multi-line failure report to its message, dropping the
// stack trace that is only meaningful inside "go test".
func reformatAssertion(s string) string {
	var parts []string
	inTrace := false
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Error Trace:"):
			inTrace = true
			continue
		case strings.HasPrefix(trimmed, "Error:"), strings.HasPrefix(trimmed, "Messages:"):
			inTrace = false
			_, trimmed, _ = strings.Cut(trimmed, ":")
			trimmed = strings.TrimSpace(trimmed)
		}
		if !inTrace && trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}
