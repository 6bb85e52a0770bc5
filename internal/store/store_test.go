package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ergon/internal/models"
)

func sampleReport(flowID, planID string, started time.Time) *models.ExecutionReport {
	return &models.ExecutionReport{
		FlowID:       flowID,
		PlanID:       planID,
		Goal:         "send the weekly report",
		Status:       models.PlanFailed,
		Duration:     1500 * time.Millisecond,
		RetriedSteps: 1,
		StartedAt:    started,
		CompletedAt:  started.Add(1500 * time.Millisecond),
		Steps: []models.StepSummary{
			{Index: 0, Description: "collect", Capability: "browser", AgentID: "web-1", Status: models.StepCompleted,
				Attempts: 2, Retries: 1, Duration: 800 * time.Millisecond, Result: "42 rows"},
			{Index: 1, Description: "email", Capability: "mail", AgentID: "mail-1", Status: models.StepFailed,
				Attempts: 1, Duration: 700 * time.Millisecond, Error: "smtp down", ErrorKind: models.ErrorKindAgent},
			{Index: 2, Description: "archive", Status: models.StepSkipped},
		},
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ergon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		dbPath  string
		wantErr bool
	}{
		{"creates database", filepath.Join(t.TempDir(), "test.db"), false},
		{"in-memory database", ":memory:", false},
		{"creates parent directories", filepath.Join(t.TempDir(), "nested", "dir", "test.db"), false},
		{"parent is a file", filepath.Join(fileInTemp(t), "test.db"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.dbPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()

			version, err := s.SchemaVersion()
			require.NoError(t, err)
			assert.Equal(t, len(migrations), version)
			assert.Equal(t, tt.dbPath, s.Path())
		})
	}
}

func fileInTemp(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestOpenTwiceKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ergon.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveReport(context.Background(), sampleReport("f1", "p1", time.Now())))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetReport(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlanID)
}

func TestSaveAndGetReport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 30, 0, 123456789, time.UTC)
	want := sampleReport("flow-1", "plan-1", started)

	require.NoError(t, s.SaveReport(ctx, want))

	got, err := s.GetReport(ctx, "flow-1")
	require.NoError(t, err)

	assert.Equal(t, want.PlanID, got.PlanID)
	assert.Equal(t, want.Goal, got.Goal)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Duration, got.Duration)
	assert.Equal(t, want.RetriedSteps, got.RetriedSteps)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.CompletedAt.Equal(got.CompletedAt))
	assert.Equal(t, want.Steps, got.Steps)
}

func TestSaveReportReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := sampleReport("flow-1", "plan-1", time.Now())
	require.NoError(t, s.SaveReport(ctx, r))

	r.Status = models.PlanCompleted
	r.Steps = r.Steps[:1]
	require.NoError(t, s.SaveReport(ctx, r))

	got, err := s.GetReport(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanCompleted, got.Status)
	assert.Len(t, got.Steps, 1)

	stats, err := s.AgentStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1, "old steps were replaced")
	assert.Equal(t, "web-1", stats[0].AgentID)
}

func TestSaveReportRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveReport(context.Background(), nil))
	assert.Error(t, s.SaveReport(context.Background(), &models.ExecutionReport{}))
}

func TestGetReportNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetReport(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestListReports(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		r := sampleReport(fmt.Sprintf("flow-%d", i), "plan-a", base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			r.PlanID = "plan-b"
			r.Status = models.PlanCompleted
		}
		require.NoError(t, s.SaveReport(ctx, r))
	}

	all, err := s.ListReports(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "flow-4", all[0].FlowID, "newest first")
	assert.Equal(t, "flow-0", all[4].FlowID)
	assert.Equal(t, 3, all[0].StepCount)
	assert.Equal(t, 1, all[0].FailedSteps)

	limited, err := s.ListReports(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byPlan, err := s.ListReports(ctx, ListOptions{PlanID: "plan-a"})
	require.NoError(t, err)
	require.Len(t, byPlan, 2)
	for _, r := range byPlan {
		assert.Equal(t, "plan-a", r.PlanID)
	}

	completed, err := s.ListReports(ctx, ListOptions{Status: models.PlanCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 3)
}

func TestAgentStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveReport(ctx, sampleReport("f1", "p", time.Now())))
	require.NoError(t, s.SaveReport(ctx, sampleReport("f2", "p", time.Now())))

	stats, err := s.AgentStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2, "skipped steps without agents are ignored")

	byID := map[string]*AgentStats{}
	for _, st := range stats {
		byID[st.AgentID] = st
	}
	assert.Equal(t, 2, byID["web-1"].Steps)
	assert.Equal(t, 2, byID["web-1"].Completed)
	assert.Equal(t, 800*time.Millisecond, byID["web-1"].AvgDuration)
	assert.Equal(t, 2, byID["mail-1"].Failed)
}

func TestConcurrentSaves(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.SaveReport(ctx, sampleReport(fmt.Sprintf("flow-%d", i), "plan", time.Now()))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	all, err := s.ListReports(ctx, ListOptions{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

type fakeSink struct {
	calls int
	err   error
}

func (f *fakeSink) SaveReport(context.Context, *models.ExecutionReport) error {
	f.calls++
	return f.err
}

func TestMultiSink(t *testing.T) {
	failing := &fakeSink{err: errors.New("disk full")}
	ok := &fakeSink{}
	sink := MultiSink{failing, nil, ok}

	err := sink.SaveReport(context.Background(), sampleReport("f", "p", time.Now()))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls, "later sinks still run")

	assert.NoError(t, MultiSink{ok}.SaveReport(context.Background(), nil))
}
