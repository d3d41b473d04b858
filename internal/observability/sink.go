package observability

import (
	"context"
	"sync/atomic"
)

// ErrorSink receives failures that must not block live-call processing, so a
// reconciliation pass can repair stored records later.
type ErrorSink interface {
	ReportPersistenceFailure(ctx context.Context, callSID string, err error)
}

// LogSink is the default ErrorSink. It logs each failure and keeps a running
// count for health reporting.
type LogSink struct {
	logger   *Logger
	failures atomic.Int64
}

func NewLogSink(logger *Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) ReportPersistenceFailure(ctx context.Context, callSID string, err error) {
	s.failures.Add(1)
	ctx = WithFields(ctx, Field{"call_sid", callSID})
	s.logger.Error(ctx, "persistence failure surfaced to error sink", err)
}

// FailureCount returns the number of failures reported since startup.
func (s *LogSink) FailureCount() int64 {
	return s.failures.Load()
}
