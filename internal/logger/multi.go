package logger

import "github.com/harrison/ergon/internal/models"

// FlowLogger is the set of events the flow controller emits.
type FlowLogger interface {
	LogFlowStart(flowID string, plan *models.Plan)
	LogStepStart(flowID string, step models.Step)
	LogStepRetry(flowID string, step models.Step, err error)
	LogStepResult(flowID string, step models.Step)
	LogSummary(report models.ExecutionReport)
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// MultiLogger forwards every event to each wrapped logger in order.
type MultiLogger struct {
	loggers []FlowLogger
}

// NewMultiLogger wraps the non-nil loggers.
func NewMultiLogger(loggers ...FlowLogger) *MultiLogger {
	ml := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			ml.loggers = append(ml.loggers, l)
		}
	}
	return ml
}

func (ml *MultiLogger) LogFlowStart(flowID string, plan *models.Plan) {
	for _, l := range ml.loggers {
		l.LogFlowStart(flowID, plan)
	}
}

func (ml *MultiLogger) LogStepStart(flowID string, step models.Step) {
	for _, l := range ml.loggers {
		l.LogStepStart(flowID, step)
	}
}

func (ml *MultiLogger) LogStepRetry(flowID string, step models.Step, err error) {
	for _, l := range ml.loggers {
		l.LogStepRetry(flowID, step, err)
	}
}

func (ml *MultiLogger) LogStepResult(flowID string, step models.Step) {
	for _, l := range ml.loggers {
		l.LogStepResult(flowID, step)
	}
}

func (ml *MultiLogger) LogSummary(report models.ExecutionReport) {
	for _, l := range ml.loggers {
		l.LogSummary(report)
	}
}

func (ml *MultiLogger) Warnf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Warnf(format, args...)
	}
}

func (ml *MultiLogger) Infof(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Infof(format, args...)
	}
}
