package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/harrison/ergon/internal/models"
)

// ErrUnknownFlow is returned for progress queries about flows the supervisor never started.
var ErrUnknownFlow = errors.New("unknown flow")

// RunResult is the outcome of one goal in RunMany.
type RunResult struct {
	Index  int
	Goal   string
	FlowID string
	Report *models.ExecutionReport
	Err    error
}

// DefaultRetainedFlows is how many finished flows a supervisor keeps for
// progress queries before dropping the oldest.
const DefaultRetainedFlows = 100

// Supervisor starts flows and answers progress queries about them by flow ID.
//
// Finished flows stay queryable until Forget is called or until more than
// the retention limit of finished flows have accumulated, at which point the
// oldest finished ones are dropped. Running flows are never dropped.
type Supervisor struct {
	factory       *Factory
	maxConcurrent int
	retain        int

	mu    sync.RWMutex
	flows map[string]Flow
	order []string
	done  map[string]bool
}

// NewSupervisor creates a supervisor. maxConcurrent < 1 means one flow at a time.
func NewSupervisor(factory *Factory, maxConcurrent int) *Supervisor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Supervisor{
		factory:       factory,
		maxConcurrent: maxConcurrent,
		retain:        DefaultRetainedFlows,
		flows:         make(map[string]Flow),
		done:          make(map[string]bool),
	}
}

// SetRetention sets how many finished flows are kept. n < 0 keeps all of
// them; n == 0 drops each flow as soon as it finishes.
func (s *Supervisor) SetRetention(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retain = n
	s.pruneLocked()
}

// Start creates and registers a flow without running it.
func (s *Supervisor) Start(flowType models.FlowType) (Flow, error) {
	f, err := s.factory.Create(flowType)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.flows[f.FlowID()] = f
	s.order = append(s.order, f.FlowID())
	s.mu.Unlock()
	return f, nil
}

// Run creates a flow for goal and executes it.
func (s *Supervisor) Run(ctx context.Context, goal string, flowType models.FlowType) (string, *models.ExecutionReport, error) {
	f, err := s.Start(flowType)
	if err != nil {
		return "", nil, err
	}
	report, err := f.Execute(ctx, goal)

	s.mu.Lock()
	s.done[f.FlowID()] = true
	s.pruneLocked()
	s.mu.Unlock()

	return f.FlowID(), report, err
}

// RunMany executes goals concurrently, at most maxConcurrent at a time.
// Results are returned in the order of goals; one failing goal does not stop the others.
func (s *Supervisor) RunMany(ctx context.Context, goals []string, flowType models.FlowType) []RunResult {
	p := pool.NewWithResults[RunResult]().WithMaxGoroutines(s.maxConcurrent)
	for i, goal := range goals {
		p.Go(func() RunResult {
			flowID, report, err := s.Run(ctx, goal, flowType)
			return RunResult{Index: i, Goal: goal, FlowID: flowID, Report: report, Err: err}
		})
	}

	results := p.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })
	return results
}

// GetProgress returns the progress of a flow started by this supervisor.
func (s *Supervisor) GetProgress(flowID string) (models.Progress, error) {
	s.mu.RLock()
	f, ok := s.flows[flowID]
	s.mu.RUnlock()
	if !ok {
		return models.Progress{}, fmt.Errorf("%w: %s", ErrUnknownFlow, flowID)
	}
	return f.Progress(), nil
}

// Active returns the progress of every flow that is still running or waiting
// to run, in start order.
func (s *Supervisor) Active() []models.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Progress
	for _, id := range s.order {
		if s.done[id] {
			continue
		}
		out = append(out, s.flows[id].Progress())
	}
	return out
}

// Forget drops a flow from the supervisor.
func (s *Supervisor) Forget(flowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetLocked(flowID)
}

func (s *Supervisor) forgetLocked(flowID string) {
	if _, ok := s.flows[flowID]; !ok {
		return
	}
	delete(s.flows, flowID)
	delete(s.done, flowID)
	for i, id := range s.order {
		if id == flowID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// pruneLocked drops the oldest finished flows beyond the retention limit.
func (s *Supervisor) pruneLocked() {
	if s.retain < 0 {
		return
	}
	excess := len(s.done) - s.retain
	if excess <= 0 {
		return
	}
	var drop []string
	for _, id := range s.order {
		if len(drop) == excess {
			break
		}
		if s.done[id] {
			drop = append(drop, id)
		}
	}
	for _, id := range drop {
		s.forgetLocked(id)
	}
}
