package executor

// graceful.go provides helpers for collaborators whose failures must not
// change the outcome of a flow (report persistence, directory watchers).

// Logger is the subset of logging the graceful helpers need.
type Logger interface {
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// GracefulWarn logs a warning if logger is non-nil.
//
// Usage:
//
//	if err := sink.SaveReport(ctx, report); err != nil {
//	    GracefulWarn(c.logger, "report not saved: %v", err)
//	}
func GracefulWarn(logger Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.Warnf(format, args...)
	}
}

// GracefulInfo logs an info message if logger is non-nil.
func GracefulInfo(logger Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.Infof(format, args...)
	}
}
