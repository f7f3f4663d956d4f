package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/toolgate/toolgate/internal/identity"
	"github.com/toolgate/toolgate/internal/model"
)

// State tracks one invocation through the decision lifecycle.
type State string

const (
	StatePending   State = "PENDING"
	StateAllowed   State = "ALLOWED"
	StateDenied    State = "DENIED"
	StateExecuted  State = "EXECUTED"
	StateFinalized State = "FINALIZED"
)

// DefaultStageTimeout bounds one blocking stage. A stage that cannot answer
// in time has failed, and a failed blocking stage denies.
const DefaultStageTimeout = 5 * time.Second

// StageResult is what one stage reports back to the orchestrator. Hook,
// Identity and Decision carry the stage's mutations: stages run against
// copies and the orchestrator applies a result only when it arrives before
// the stage deadline, so a goroutine abandoned on timeout can touch nothing
// anyone still reads.
type StageResult struct {
	Allowed  bool
	Reason   string
	Decision *model.Decision
	Identity *identity.AgentIdentity
	Hook     *model.HookContext
	Err      error
}

func allow(reason string) StageResult {
	return StageResult{Allowed: true, Reason: reason}
}

func deny(reason string) StageResult {
	return StageResult{Allowed: false, Reason: reason}
}

// Stage is one step of the decision chain. Blocking stages can veto the
// operation; non-blocking stages only observe. Run receives the hook context
// and the decision so far by value; any mutation travels back in the
// StageResult, never in place.
type Stage struct {
	Name     string
	Blocking bool
	Timeout  time.Duration
	Run      func(ctx context.Context, hc model.HookContext, prior model.Decision) StageResult
}

// BlockedError is returned by Execute when the chain denies the operation.
type BlockedError struct {
	Tool   string
	Stage  string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("operation blocked at %s: %s (tool: %s)", e.Stage, e.Reason, e.Tool)
}

// IsBlocked reports whether err is a pipeline denial.
func IsBlocked(err error) bool {
	_, ok := err.(*BlockedError)
	return ok
}

// runStage executes one stage under its timeout, converting a panic or a
// timeout into a stage failure. For a blocking stage the orchestrator turns
// that failure into a denial; it never leaks out as a crash. The stage
// goroutine works on its own copies, so abandoning it on timeout is safe.
func runStage(ctx context.Context, s Stage, hc model.HookContext, prior model.Decision) StageResult {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan StageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- StageResult{Err: fmt.Errorf("stage %s panicked: %v", s.Name, r)}
			}
		}()
		done <- s.Run(ctx, hc, prior)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return StageResult{Err: fmt.Errorf("stage %s: %w", s.Name, ctx.Err())}
	}
}
