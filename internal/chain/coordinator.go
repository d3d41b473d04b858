// Package chain sequences a call through an ordered list of agent
// configurations, swapping the live session's agent at each step boundary
// without tearing down the call audio.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callbridge-server/internal/observability"

	"github.com/google/uuid"
)

// Status is the overall state of one chain execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepOutcome records how one step of the execution went.
type StepOutcome string

const (
	StepApplied  StepOutcome = "applied"
	StepFallback StepOutcome = "fallback"
	StepFailed   StepOutcome = "failed"
)

// StepResult is the recorded result of applying one step.
type StepResult struct {
	Position int         `json:"position"`
	Outcome  StepOutcome `json:"outcome"`
	Error    string      `json:"error,omitempty"`
	At       time.Time   `json:"at"`
}

// Execution is a read-only snapshot of one chain traversal.
type Execution struct {
	ID          string       `json:"id"`
	ChainID     string       `json:"chain_id"`
	CallSID     string       `json:"call_sid"`
	Status      Status       `json:"status"`
	CurrentStep int          `json:"current_step"`
	TotalSteps  int          `json:"total_steps"`
	Results     []StepResult `json:"results"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// execution is the live state. Each execution has its own lock so a slow
// advance on one call never blocks another.
type execution struct {
	mu        sync.Mutex
	id        string
	chainID   string
	callSID   string
	status    Status
	current   int
	steps     []Step
	results   []StepResult
	startedAt time.Time
	updatedAt time.Time
}

func (e *execution) snapshotLocked() *Execution {
	results := make([]StepResult, len(e.results))
	copy(results, e.results)
	return &Execution{
		ID:          e.id,
		ChainID:     e.chainID,
		CallSID:     e.callSID,
		Status:      e.status,
		CurrentStep: e.current,
		TotalSteps:  len(e.steps),
		Results:     results,
		StartedAt:   e.startedAt,
		UpdatedAt:   e.updatedAt,
	}
}

func (e *execution) snapshot() *Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Coordinator owns every live chain execution, keyed by execution ID with a
// secondary index by call SID.
type Coordinator struct {
	source   ConfigSource
	sessions SessionControl
	logger   *observability.Logger
	now      func() time.Time

	mu         sync.Mutex
	executions map[string]*execution
	byCall     map[string]string
}

func NewCoordinator(source ConfigSource, sessions SessionControl, logger *observability.Logger) *Coordinator {
	return &Coordinator{
		source:     source,
		sessions:   sessions,
		logger:     logger,
		now:        time.Now,
		executions: make(map[string]*execution),
		byCall:     make(map[string]string),
	}
}

// Start begins a chain execution for a call and applies the first step to the
// live session. The call must still be connected and must not already have a
// running execution.
func (c *Coordinator) Start(ctx context.Context, chainID, callSID string) (*Execution, error) {
	steps, err := c.source.Steps(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrChainNotFound
	}
	if !c.sessions.Active(callSID) {
		return nil, ErrCallEnded
	}

	exec := &execution{
		id:        uuid.New().String(),
		chainID:   chainID,
		callSID:   callSID,
		status:    StatusRunning,
		steps:     steps,
		startedAt: c.now(),
		updatedAt: c.now(),
	}

	// The running check and the registration share one critical section, so
	// concurrent starts for the same call can never both claim the slot.
	c.mu.Lock()
	if existingID, ok := c.byCall[callSID]; ok {
		existing := c.executions[existingID]
		existing.mu.Lock()
		running := existing.status == StatusRunning
		existing.mu.Unlock()
		if running {
			c.mu.Unlock()
			return nil, ErrExecutionActive
		}
	}
	c.executions[exec.id] = exec
	c.byCall[callSID] = exec.id
	c.mu.Unlock()

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if err := c.applyStepLocked(ctx, exec); err != nil {
		return exec.snapshotLocked(), err
	}
	c.logger.Info(ctx, fmt.Sprintf("started chain %s for call %s (%d steps)", chainID, callSID, len(steps)))
	return exec.snapshotLocked(), nil
}

// Advance moves the execution to its next step, reconfiguring the live
// session in place. Advancing past the last step completes the execution.
// Advancing after the call has ended records the execution as failed.
func (c *Coordinator) Advance(ctx context.Context, executionID string) (*Execution, error) {
	c.mu.Lock()
	exec, ok := c.executions[executionID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrExecutionNotFound
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()

	if exec.status != StatusRunning {
		// Terminal executions are immutable; advancing is a no-op.
		return exec.snapshotLocked(), nil
	}

	if !c.sessions.Active(exec.callSID) {
		exec.status = StatusFailed
		exec.updatedAt = c.now()
		c.logger.Warn(ctx, fmt.Sprintf("chain execution %s advanced after call %s ended", exec.id, exec.callSID))
		return exec.snapshotLocked(), ErrCallEnded
	}

	exec.current++
	if exec.current >= len(exec.steps) {
		exec.status = StatusCompleted
		exec.updatedAt = c.now()
		c.logger.Info(ctx, fmt.Sprintf("chain execution %s completed for call %s", exec.id, exec.callSID))
		return exec.snapshotLocked(), nil
	}

	if err := c.applyStepLocked(ctx, exec); err != nil {
		return exec.snapshotLocked(), err
	}
	return exec.snapshotLocked(), nil
}

// applyStepLocked applies the current step's configuration to the live
// session, trying the fallback if the primary fails. A step that fails with
// no working fallback aborts the chain and ends the call session.
func (c *Coordinator) applyStepLocked(ctx context.Context, exec *execution) error {
	step := exec.steps[exec.current]
	exec.updatedAt = c.now()

	err := c.sessions.Reconfigure(ctx, exec.callSID, step.Config)
	if err == nil {
		exec.results = append(exec.results, StepResult{Position: step.Position, Outcome: StepApplied, At: c.now()})
		return nil
	}

	if step.Fallback != nil {
		c.logger.Warn(ctx, fmt.Sprintf("chain step %d failed for call %s, trying fallback: %v", step.Position, exec.callSID, err))
		if fbErr := c.sessions.Reconfigure(ctx, exec.callSID, *step.Fallback); fbErr == nil {
			exec.results = append(exec.results, StepResult{Position: step.Position, Outcome: StepFallback, Error: err.Error(), At: c.now()})
			return nil
		}
	}

	exec.results = append(exec.results, StepResult{Position: step.Position, Outcome: StepFailed, Error: err.Error(), At: c.now()})
	exec.status = StatusFailed
	exec.updatedAt = c.now()
	c.sessions.End(ctx, exec.callSID)
	c.logger.Error(ctx, fmt.Sprintf("chain execution %s aborted at step %d, call %s ended", exec.id, step.Position, exec.callSID), err)
	return fmt.Errorf("chain step %d failed with no fallback: %w", step.Position, err)
}

// Get returns the execution with the given ID.
func (c *Coordinator) Get(executionID string) (*Execution, error) {
	c.mu.Lock()
	exec, ok := c.executions[executionID]
	c.mu.Unlock()
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec.snapshot(), nil
}

// GetByCall returns the execution driving a call, if any.
func (c *Coordinator) GetByCall(callSID string) (*Execution, error) {
	c.mu.Lock()
	id, ok := c.byCall[callSID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrExecutionNotFound
	}
	exec := c.executions[id]
	c.mu.Unlock()
	return exec.snapshot(), nil
}
