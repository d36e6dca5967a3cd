package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudbees/browser-matrix-tests/framework"
	"github.com/cloudbees/browser-matrix-tests/matrix"
)

var (
	envIE     = matrix.New("Windows 8.1", "internet explorer", "11")
	envSafari = matrix.New("OSX 10.8", "safari", "6")
)

func succeeded(env matrix.EnvironmentDescriptor) framework.PipelineResult {
	o := framework.PassedOutcome("s")
	return framework.PipelineResult{Environment: env, State: framework.StateSucceeded, Outcome: &o, Duration: 2 * time.Second}
}

func TestObservePipeline(t *testing.T) {
	c := NewCollector()
	assertionFailure := framework.AssertionFailedOutcome("s2", "missing")

	c.ObservePipeline(succeeded(envIE))
	c.ObservePipeline(framework.PipelineResult{
		Environment: envSafari,
		State:       framework.StateFailed,
		FailedAt:    framework.StateRunning,
		Outcome:     &assertionFailure,
		ReportErr:   errors.New("report"),
		ReleaseErr:  errors.New("release"),
	})
	c.ObservePipeline(framework.PipelineResult{
		Environment: envSafari,
		State:       framework.StateFailed,
		FailedAt:    framework.StateSessionOpening,
		SessionErr:  errors.New("unauthorized"),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.pipelinesTotal.WithLabelValues("Windows 8.1", "internet explorer", "succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pipelinesTotal.WithLabelValues("OSX 10.8", "safari", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failuresTotal.WithLabelValues("running", "assertion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failuresTotal.WithLabelValues("session-opening", "session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reportErrors.WithLabelValues("safari")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.releaseErrors.WithLabelValues("safari")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.pipelineSeconds))
}

func TestObserveRun(t *testing.T) {
	c := NewCollector()
	c.ObserveRun(framework.Results{})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lastRunSuccess))

	c.ObserveRun(framework.Results{Failures: []framework.PipelineResult{{}}})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.lastRunSuccess))
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector()
	c.ObservePipeline(succeeded(envIE))
	c.ObserveRun(framework.Results{})

	path := filepath.Join(t.TempDir(), "browser_matrix.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text,
		`browser_matrix_pipelines_total{browser="internet explorer",os="Windows 8.1",result="succeeded"} 1`), text)
	assert.Contains(t, text, "browser_matrix_last_run_success 1")
}
