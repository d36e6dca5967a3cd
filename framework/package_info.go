// Package framework contains the execution engine that runs one scenario against a matrix of
// remote browser environments.
//
// The general model is:
//
// 1. A Dispatcher takes the environment matrix and starts one independent pipeline per entry,
// optionally bounded by a concurrency limit.
//
// 2. Each pipeline asks a SessionFactory for a remote session, hands the session to an
// Executor, passes the resulting Outcome to a Reporter, and then releases the session. The
// release happens on every path once a session exists.
//
// 3. Failures are contained within their pipeline and become part of that pipeline's
// PipelineResult. They never affect sibling pipelines.
//
// The domain-specific code that knows how to talk to a particular provider and what the
// scenario checks is supplied through the SessionFactory, Executor, and Reporter interfaces.
package framework
