package store

import (
	"context"
	"errors"

	"github.com/harrison/ergon/internal/models"
)

// Sink is anything that can persist a finished report.
type Sink interface {
	SaveReport(ctx context.Context, report *models.ExecutionReport) error
}

// MultiSink saves to every sink and joins their errors.
type MultiSink []Sink

// SaveReport tries every sink even when an earlier one fails.
func (m MultiSink) SaveReport(ctx context.Context, report *models.ExecutionReport) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SaveReport(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
