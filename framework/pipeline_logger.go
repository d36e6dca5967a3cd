package framework

import "github.com/cloudbees/browser-matrix-tests/matrix"

// PipelineLogger receives progress notifications from the Dispatcher. Methods are called from
// the goroutine of the pipeline concerned, so implementations must be safe for concurrent use.
type PipelineLogger interface {
	PipelineStarted(env matrix.EnvironmentDescriptor)
	PipelineError(env matrix.EnvironmentDescriptor, err error)
	PipelineFinished(result PipelineResult)
	PipelineSkipped(env matrix.EnvironmentDescriptor, reason string)
}

type nullPipelineLogger struct{}

func (n nullPipelineLogger) PipelineStarted(matrix.EnvironmentDescriptor)         {}
func (n nullPipelineLogger) PipelineError(matrix.EnvironmentDescriptor, error)    {}
func (n nullPipelineLogger) PipelineFinished(PipelineResult)                      {}
func (n nullPipelineLogger) PipelineSkipped(matrix.EnvironmentDescriptor, string) {}
