package framework

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cloudbees/browser-matrix-tests/credentials"
	"github.com/cloudbees/browser-matrix-tests/errdefs"
	"github.com/cloudbees/browser-matrix-tests/matrix"
)

const (
	DefaultOpenTimeout    = 3 * time.Minute
	DefaultRunTimeout     = 2 * time.Minute
	DefaultReportTimeout  = 30 * time.Second
	DefaultReleaseTimeout = time.Minute
)

// Session is the part of a remote session that the Dispatcher itself needs. Everything else
// about a session is only meaningful to the Executor.
type Session interface {
	ID() string
	Close(ctx context.Context) error
}

// SessionFactory opens one remote session for an environment. If it returns an error, it must
// not leave a remote session allocated.
type SessionFactory[S Session] interface {
	Open(
		ctx context.Context,
		env matrix.EnvironmentDescriptor,
		creds credentials.Credentials,
		label string,
		logger Logger,
	) (S, error)
}

// Executor runs the scenario in an open session. Failures are returned as part of the Outcome,
// not as errors.
type Executor[S Session] interface {
	Run(ctx context.Context, session S, logger Logger) Outcome
}

// Reporter tells the remote provider how a session went. Errors are logged by the Dispatcher
// and otherwise ignored.
type Reporter interface {
	Report(ctx context.Context, sessionID string, outcome Outcome) error
}

// Observer is notified of every finished pipeline, for instance to update metrics.
type Observer interface {
	ObservePipeline(result PipelineResult)
}

type Timeouts struct {
	Open    time.Duration
	Run     time.Duration
	Report  time.Duration
	Release time.Duration
}

type Config struct {
	// Concurrency is the maximum number of pipelines that run at once; zero or less means no limit.
	Concurrency int
	Timeouts    Timeouts
	// Label returns the human-readable run label for an environment. Defaults to the environment ID.
	Label func(matrix.EnvironmentDescriptor) string

	PipelineLogger PipelineLogger
	// DebugLogger, if set, receives every pipeline's debug output as it happens, prefixed with
	// the environment ID. Each pipeline's own output is captured regardless.
	DebugLogger Logger
	// Logger is the process logger; nil disables it.
	Logger    *zerolog.Logger
	Observers []Observer
}

// Dispatcher runs one pipeline per environment. Pipelines are independent of each other: the only
// thing they share is the read-only credentials.
type Dispatcher[S Session] struct {
	config   Config
	log      zerolog.Logger
	creds    credentials.Credentials
	factory  SessionFactory[S]
	executor Executor[S]
	reporter Reporter
	tracer   trace.Tracer
}

func NewDispatcher[S Session](
	creds credentials.Credentials,
	factory SessionFactory[S],
	executor Executor[S],
	reporter Reporter,
	config Config,
) *Dispatcher[S] {
	if config.PipelineLogger == nil {
		config.PipelineLogger = nullPipelineLogger{}
	}
	if config.Label == nil {
		config.Label = matrix.EnvironmentDescriptor.ID
	}
	t := &config.Timeouts
	if t.Open <= 0 {
		t.Open = DefaultOpenTimeout
	}
	if t.Run <= 0 {
		t.Run = DefaultRunTimeout
	}
	if t.Report <= 0 {
		t.Report = DefaultReportTimeout
	}
	if t.Release <= 0 {
		t.Release = DefaultReleaseTimeout
	}
	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}
	return &Dispatcher[S]{
		config:   config,
		log:      log,
		creds:    creds,
		factory:  factory,
		executor: executor,
		reporter: reporter,
		tracer:   otel.Tracer("pipeline dispatcher"),
	}
}

// RunMatrix runs every environment listed by the provider. If the provider can also report
// environments that it excluded (as matrix.Filtered does), those are recorded as skipped.
func (d *Dispatcher[S]) RunMatrix(ctx context.Context, provider matrix.Provider) Results {
	results := d.Run(ctx, provider.ListEnvironments())
	if ex, ok := provider.(interface {
		Excluded() []matrix.EnvironmentDescriptor
	}); ok {
		for _, env := range ex.Excluded() {
			d.config.PipelineLogger.PipelineSkipped(env, "excluded by filter parameters")
			results.Skipped = append(results.Skipped, env)
		}
	}
	return results
}

// Run starts one pipeline per environment and waits for all of them to finish. Results are in
// the same order as envs, regardless of the order in which pipelines complete.
//
// Cancelling ctx stops pipelines that have not yet started and interrupts any that are opening a
// session or running the scenario. Sessions that were already opened are still reported and
// released before Run returns.
func (d *Dispatcher[S]) Run(ctx context.Context, envs []matrix.EnvironmentDescriptor) Results {
	pipelines := make([]PipelineResult, len(envs))

	var sem *semaphore.Weighted
	if d.config.Concurrency > 0 {
		sem = semaphore.NewWeighted(int64(d.config.Concurrency))
	}
	d.log.Info().Int("environments", len(envs)).Int("concurrency", d.config.Concurrency).
		Msg("Starting pipelines")

	var wg sync.WaitGroup
	for i, env := range envs {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				pipelines[i] = d.notStarted(env, err)
				continue
			}
		}
		wg.Add(1)
		go func(i int, env matrix.EnvironmentDescriptor) {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			pipelines[i] = d.runPipeline(ctx, env)
		}(i, env)
	}
	wg.Wait()

	results := Results{Pipelines: pipelines}
	for _, p := range pipelines {
		if !p.Succeeded() {
			results.Failures = append(results.Failures, p)
		}
	}
	return results
}

func (d *Dispatcher[S]) notStarted(env matrix.EnvironmentDescriptor, cause error) PipelineResult {
	result := PipelineResult{
		Environment: env,
		Label:       d.config.Label(env),
		State:       StateFailed,
		FailedAt:    StatePending,
		SessionErr:  fmt.Errorf("run was cancelled before the pipeline started: %w", cause),
	}
	d.config.PipelineLogger.PipelineError(env, result.SessionErr)
	d.finish(result)
	return result
}

func (d *Dispatcher[S]) finish(result PipelineResult) {
	for _, o := range d.config.Observers {
		o.ObservePipeline(result)
	}
	d.config.PipelineLogger.PipelineFinished(result)
}

type pipeline[S Session] struct {
	d      *Dispatcher[S]
	result PipelineResult
	debug  CapturingLogger
	logger Logger
	log    zerolog.Logger
	span   trace.Span
}

func (d *Dispatcher[S]) runPipeline(ctx context.Context, env matrix.EnvironmentDescriptor) PipelineResult {
	start := time.Now()
	p := &pipeline[S]{
		d: d,
		result: PipelineResult{
			Environment: env,
			Label:       d.config.Label(env),
			State:       StatePending,
		},
		log: d.log.With().Str("env", env.ID()).Logger(),
	}
	if d.config.DebugLogger != nil {
		p.logger = TeeLogger(&p.debug, PrefixedLogger("["+env.ID()+"] ", d.config.DebugLogger))
	} else {
		p.logger = &p.debug
	}

	ctx, p.span = d.tracer.Start(ctx, "pipeline "+env.ID(), trace.WithAttributes(
		attribute.String("env.os", env.OperatingSystem),
		attribute.String("env.browser", env.BrowserName),
		attribute.String("env.version", env.BrowserVersion.StringValue()),
	))
	defer p.span.End()

	d.config.PipelineLogger.PipelineStarted(env)

	if err := ctx.Err(); err != nil {
		p.result.SessionErr = fmt.Errorf("run was cancelled before the pipeline started: %w", err)
		p.result.FailedAt = StatePending
		d.config.PipelineLogger.PipelineError(env, p.result.SessionErr)
	} else {
		p.execute(ctx)
	}

	if p.result.SessionErr == nil && p.result.Outcome != nil && p.result.Outcome.Passed {
		p.transition(StateSucceeded)
	} else {
		p.transition(StateFailed)
		if p.result.FailedAt == "" {
			p.result.FailedAt = StateRunning
		}
		p.span.SetStatus(codes.Error, p.result.Detail())
	}
	p.result.Duration = time.Since(start)
	p.result.DebugOutput = p.debug.Output()

	d.finish(p.result)
	return p.result
}

func (p *pipeline[S]) transition(state State) {
	p.result.State = state
	p.logger.Printf("State: %s", state)
	p.span.AddEvent(string(state))
}

// execute walks a pipeline through open, run, report and release. Once a session has been
// opened, its release is deferred so that it happens however the rest of the pipeline goes.
func (p *pipeline[S]) execute(ctx context.Context) {
	d := p.d
	env := p.result.Environment

	p.transition(StateSessionOpening)
	session, err := p.open(ctx)
	if err != nil {
		if !errdefs.IsSessionCreation(err) {
			err = &errdefs.SessionCreationError{Environment: env.ID(), Err: err}
		}
		p.result.SessionErr = err
		p.result.FailedAt = StateSessionOpening
		p.logger.Printf("Could not open session: %s", err)
		p.log.Error().Err(err).Msg("Session creation failed")
		d.config.PipelineLogger.PipelineError(env, err)
		p.transition(StateReleased) // nothing to release
		return
	}
	sessionID := session.ID()
	p.result.SessionID = sessionID
	p.span.SetAttributes(attribute.String("session.id", sessionID))
	p.log = p.log.With().Str("session_id", sessionID).Logger()
	p.log.Debug().Msg("Session opened")
	defer p.release(ctx, session)

	p.transition(StateRunning)
	outcome := p.run(ctx, session)
	if outcome.SessionID != sessionID {
		if outcome.SessionID != "" {
			p.log.Error().Str("outcome_session_id", outcome.SessionID).Msg("Outcome refers to a different session")
			outcome = Outcome{
				SessionID:     sessionID,
				FailureKind:   FailureExecution,
				FailureDetail: fmt.Sprintf("scenario produced an outcome for foreign session %q", outcome.SessionID),
			}
		} else {
			outcome.SessionID = sessionID
		}
	}
	p.result.Outcome = &outcome
	if !outcome.Passed {
		p.result.FailedAt = StateRunning
		d.config.PipelineLogger.PipelineError(env, errors.New(outcome.String()))
	}

	p.transition(StateReporting)
	p.report(ctx, outcome)
}

func (p *pipeline[S]) open(ctx context.Context) (session S, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.d.config.Timeouts.Open)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			var zero S
			session = zero
			err = fmt.Errorf("unexpected panic while opening session: %+v\n%s", r, string(debug.Stack()))
		}
	}()
	return p.d.factory.Open(ctx, p.result.Environment, p.d.creds, p.result.Label, p.logger)
}

func (p *pipeline[S]) run(ctx context.Context, session S) (outcome Outcome) {
	ctx, cancel := context.WithTimeout(ctx, p.d.config.Timeouts.Run)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			outcome = ExecutionFailedOutcome(session.ID(),
				fmt.Errorf("unexpected panic in scenario: %+v\n%s", r, string(debug.Stack())))
		}
	}()
	return p.d.executor.Run(ctx, session, p.logger)
}

// report is best-effort. It uses a context that is detached from the run, so that a session whose
// scenario was interrupted by the run timeout is still marked as failed at the provider.
func (p *pipeline[S]) report(ctx context.Context, outcome Outcome) {
	if p.d.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.d.config.Timeouts.Report)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("unexpected panic in reporter: %+v", r)
			}
		}()
		return p.d.reporter.Report(ctx, outcome.SessionID, outcome)
	}()
	if err != nil {
		if !errdefs.IsReporting(err) {
			err = &errdefs.ReportingError{SessionID: outcome.SessionID, Err: err}
		}
		p.result.ReportErr = err
		p.logger.Printf("Reporting failed: %s", err)
		p.log.Warn().Err(err).Msg("Could not report outcome")
		return
	}
	p.logger.Printf("Reported outcome: %s", outcome)
}

func (p *pipeline[S]) release(ctx context.Context, session S) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.d.config.Timeouts.Release)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("unexpected panic while closing session: %+v", r)
			}
		}()
		return session.Close(ctx)
	}()
	if err != nil {
		if !errdefs.IsRelease(err) {
			err = &errdefs.ReleaseError{SessionID: session.ID(), Err: err}
		}
		p.result.ReleaseErr = err
		p.logger.Printf("Release failed: %s", err)
		p.log.Error().Err(err).Msg("Session may have leaked")
		p.d.config.PipelineLogger.PipelineError(p.result.Environment, err)
	}
	p.transition(StateReleased)
}
