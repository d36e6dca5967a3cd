package framework

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger interface {
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (n nullLogger) Printf(message string, args ...interface{}) {}

func NullLogger() Logger { return nullLogger{} }

type CapturedMessage struct {
	Time    time.Time
	Message string
}

type CapturedOutput []CapturedMessage

// CapturingLogger accumulates debug output for one pipeline, so that it can be shown as a block
// after the pipeline finishes instead of interleaving with the output of other pipelines.
type CapturingLogger struct {
	output []CapturedMessage
	lock   sync.Mutex
}

func (l *CapturingLogger) Printf(message string, args ...interface{}) {
	l.lock.Lock()
	l.output = append(l.output, CapturedMessage{Time: time.Now(), Message: fmt.Sprintf(message, args...)})
	l.lock.Unlock()
}

func (l *CapturingLogger) Output() CapturedOutput {
	l.lock.Lock()
	ret := append([]CapturedMessage(nil), l.output...)
	l.lock.Unlock()
	return ret
}

func (output CapturedOutput) Dump(dest io.Writer, prefix string) {
	for _, m := range output {
		fmt.Fprintf(dest, "%s[%s] %s\n",
			prefix,
			m.Time.Format(timestampFormat),
			m.Message,
		)
	}
}

type teeLogger []Logger

func (t teeLogger) Printf(message string, args ...interface{}) {
	for _, l := range t {
		l.Printf(message, args...)
	}
}

// TeeLogger returns a Logger that writes every message to all of the given loggers. Nil
// loggers are ignored.
func TeeLogger(loggers ...Logger) Logger {
	var t teeLogger
	for _, l := range loggers {
		if l != nil {
			t = append(t, l)
		}
	}
	if len(t) == 1 {
		return t[0]
	}
	return t
}

type prefixedLogger struct {
	prefix string
	logger Logger
}

func (p prefixedLogger) Printf(message string, args ...interface{}) {
	p.logger.Printf(p.prefix+message, args...)
}

// PrefixedLogger returns a Logger that adds a fixed prefix to every message.
func PrefixedLogger(prefix string, logger Logger) Logger {
	if logger == nil {
		return NullLogger()
	}
	return prefixedLogger{prefix: prefix, logger: logger}
}
