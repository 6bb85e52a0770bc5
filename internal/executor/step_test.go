package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ergon/internal/agent"
	"github.com/harrison/ergon/internal/models"
)

func testStep() models.Step {
	return models.Step{Index: 1, Description: "send the report", RequiredCapability: "mail", Status: models.StepRunning}
}

func TestExecuteSuccess(t *testing.T) {
	var gotInstr, gotHist string
	exec := New(agent.InvokerFunc(func(_ context.Context, _, instr, hist string) (string, error) {
		gotInstr, gotHist = instr, hist
		return "sent", nil
	}))

	out := exec.Execute(context.Background(), testStep(), "m1", "history", time.Second)
	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, "sent", out.Result)
	assert.NoError(t, out.Err)
	assert.Equal(t, "send the report", gotInstr)
	assert.Equal(t, "history", gotHist)
}

func TestExecuteFailureClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"malformed", agent.NewAgentError("a", "bad", false, agent.ErrMalformedInput), false},
		{"cannot perform", fmt.Errorf("wrapped: %w", agent.ErrCannotPerform), false},
		{"unavailable", agent.NewAgentError("a", "gone", true, agent.ErrAgentUnavailable), true},
		{"agent says permanent", agent.NewAgentError("a", "quota", false, nil), false},
		{"agent says transient", agent.NewAgentError("a", "busy", true, nil), true},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"unknown", errors.New("mystery"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := New(agent.InvokerFunc(func(context.Context, string, string, string) (string, error) {
				return "", tt.err
			}))
			out := exec.Execute(context.Background(), testStep(), "a", "", time.Second)
			assert.Equal(t, OutcomeFailure, out.Kind)
			assert.Equal(t, tt.retryable, out.Retryable)
			assert.ErrorIs(t, out.Err, tt.err)
		})
	}
}

func TestExecuteTimeoutEnforcedWithoutAgentCooperation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// The agent ignores its context entirely.
	exec := New(agent.InvokerFunc(func(context.Context, string, string, string) (string, error) {
		<-release
		return "late", nil
	}))

	timeout := 50 * time.Millisecond
	start := time.Now()
	out := exec.Execute(context.Background(), testStep(), "a", "", timeout)
	elapsed := time.Since(start)

	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.True(t, out.Retryable)
	assert.Empty(t, out.Result, "late result must be discarded")
	assert.True(t, IsTimeoutError(out.Err))
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
}

func TestExecuteTimeoutCancelsAgentContext(t *testing.T) {
	var cancelled atomic.Bool
	stopped := make(chan struct{})
	exec := New(agent.InvokerFunc(func(ctx context.Context, _, _, _ string) (string, error) {
		<-ctx.Done()
		cancelled.Store(true)
		close(stopped)
		return "", ctx.Err()
	}))

	out := exec.Execute(context.Background(), testStep(), "a", "", 20*time.Millisecond)
	assert.Equal(t, OutcomeTimedOut, out.Kind)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("agent context was not cancelled")
	}
	assert.True(t, cancelled.Load())
}

func TestExecuteAbortedByParent(t *testing.T) {
	exec := New(agent.InvokerFunc(func(ctx context.Context, _, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	out := exec.Execute(ctx, testStep(), "a", "", time.Minute)
	assert.Equal(t, OutcomeAborted, out.Kind)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestExecuteAlreadyCancelled(t *testing.T) {
	var calls atomic.Int32
	exec := New(agent.InvokerFunc(func(context.Context, string, string, string) (string, error) {
		calls.Add(1)
		return "x", nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := exec.Execute(ctx, testStep(), "a", "", time.Second)
	assert.Equal(t, OutcomeAborted, out.Kind)
	assert.Equal(t, int32(0), calls.Load())
}

func TestExecuteNoTimeout(t *testing.T) {
	exec := New(agent.InvokerFunc(func(context.Context, string, string, string) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	}))

	out := exec.Execute(context.Background(), testStep(), "a", "", 0)
	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.GreaterOrEqual(t, out.Duration, 10*time.Millisecond)
}

func TestExecuteAgentPanic(t *testing.T) {
	exec := New(agent.InvokerFunc(func(context.Context, string, string, string) (string, error) {
		panic("boom")
	}))

	out := exec.Execute(context.Background(), testStep(), "a", "", time.Second)
	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.False(t, out.Retryable)
	assert.Contains(t, out.Err.Error(), "panic: boom")
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "timed_out", OutcomeTimedOut.String())
	assert.Equal(t, "aborted", OutcomeAborted.String())
	assert.Equal(t, "unknown", OutcomeKind(99).String())
}

func TestBuildHistory(t *testing.T) {
	steps := []models.Step{
		{Index: 0, Description: "look up contacts", RequiredCapability: "browser", Status: models.StepCompleted, Result: " alice, bob \n"},
		{Index: 1, Description: "draft email", Status: models.StepFailed},
		{Index: 2, Description: "summarise", Status: models.StepCompleted, Result: "short"},
		{Index: 3, Description: "send", Status: models.StepPending},
	}

	assert.Equal(t, "", BuildHistory(steps, 0))
	assert.Equal(t, "Step 1 (browser): look up contacts\nResult: alice, bob", BuildHistory(steps, 1))
	assert.Equal(t,
		"Step 1 (browser): look up contacts\nResult: alice, bob\n\nStep 3: summarise\nResult: short",
		BuildHistory(steps, 3))
}

func TestIsRetryableNil(t *testing.T) {
	require.False(t, IsRetryable(nil))
}
