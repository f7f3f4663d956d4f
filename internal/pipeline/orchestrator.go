package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/budget"
	"github.com/toolgate/toolgate/internal/identity"
	"github.com/toolgate/toolgate/internal/model"
	"github.com/toolgate/toolgate/internal/rbac"
)

// ToolOutput is what a wrapped tool reports after running.
type ToolOutput struct {
	Result       any
	InputTokens  int64
	OutputTokens int64
}

// ToolFunc is the function signature Execute guards.
type ToolFunc func(ctx context.Context) (ToolOutput, error)

// Evaluation is the outcome of the pre-phase decision chain.
type Evaluation struct {
	State    State
	Decision model.Decision
	Stage    string
	Identity *identity.AgentIdentity
}

// HookResult converts the evaluation into the hook contract shape.
func (ev Evaluation) HookResult() model.HookResult {
	return model.HookResult{
		Success:       true,
		Allowed:       ev.State != StateDenied,
		Blocking:      ev.State == StateDenied,
		Reason:        ev.Decision.Reason,
		ExecutionTime: float64(ev.Decision.CheckTime) / float64(time.Millisecond),
	}
}

// Config wires a Pipeline's collaborators. Identity and Trail may be nil:
// without a resolver the declared context fields are taken at face value,
// and without a trail decisions go unrecorded.
type Config struct {
	Identity *identity.Resolver
	Table    *rbac.Table
	Budget   *budget.Store
	Trail    *audit.Trail
	Metrics  *Metrics
	Logger   *zap.Logger

	// StageTimeout bounds each blocking stage. Zero means
	// DefaultStageTimeout.
	StageTimeout time.Duration
}

// Pipeline is the synchronous decision chain in front of every tool call.
//
// Pre-phase, in order, short-circuit on the first denial:
//  1. identity-verify    — resolve and validate the caller
//  2. permission-check   — role rules over tool, path and API
//  3. budget-enforce     — projected tokens and daily cost ceilings
//  4. approval-gate      — explicit high-risk signatures only
//
// Post-phase, continue-on-failure: budget-deduct, then audit-trail.
// Blocking stages fail closed; post-phase failures never surface.
type Pipeline struct {
	identity     *identity.Resolver
	table        atomic.Pointer[rbac.Table]
	budget       *budget.Store
	trail        *audit.Trail
	metrics      *Metrics
	logger       *zap.Logger
	stageTimeout time.Duration

	fallbackSeen atomic.Int64
}

// New creates a Pipeline over the given collaborators.
func New(cfg Config) *Pipeline {
	if cfg.Table == nil {
		cfg.Table = rbac.DefaultTable()
	}
	if cfg.Budget == nil {
		cfg.Budget = budget.NewStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &Pipeline{
		identity:     cfg.Identity,
		budget:       cfg.Budget,
		trail:        cfg.Trail,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.Named("pipeline"),
		stageTimeout: cfg.StageTimeout,
	}
	p.table.Store(cfg.Table)
	return p
}

// Table returns the current rule table.
func (p *Pipeline) Table() *rbac.Table {
	return p.table.Load()
}

// SwapTable atomically replaces the rule table. In-flight evaluations keep
// the table they started with.
func (p *Pipeline) SwapTable(t *rbac.Table) {
	if t == nil {
		return
	}
	p.table.Store(t)
	p.logger.Info("rule table swapped", zap.String("hash", t.Hash()))
}

// Budget returns the pipeline's budget store.
func (p *Pipeline) Budget() *budget.Store {
	return p.budget
}

// InitAgent creates budget state for an agent from its role's ceilings.
func (p *Pipeline) InitAgent(agentID string, role model.Role) error {
	rule, ok := p.Table().Rule(role)
	if !ok {
		return fmt.Errorf("pipeline: unknown role %q", role)
	}
	return p.budget.Init(agentID, rule.Budget.MaxTokensPerSession, rule.Budget.MaxCostPerDay)
}

// Evaluate runs the pre-phase chain without executing or recording
// anything. This is the advisory surface; only Execute consumes budget
// and writes audit entries.
func (p *Pipeline) Evaluate(ctx context.Context, hc model.HookContext) Evaluation {
	return p.evaluate(ctx, &hc)
}

// Execute guards one tool invocation. The chain decides, the tool runs
// only on an allowed decision, and the post-phase records what actually
// happened. A denial is returned as a *BlockedError without calling fn.
func (p *Pipeline) Execute(ctx context.Context, hc model.HookContext, fn ToolFunc) (any, error) {
	// The decision always runs to completion: caller cancellation only
	// prevents execution. Stage timeouts still bound every step.
	ev := p.evaluate(context.WithoutCancel(ctx), &hc)

	if ev.State == StateDenied {
		p.finalize(&hc, &ev, false, ToolOutput{})
		return nil, &BlockedError{Tool: hc.ToolName, Stage: ev.Stage, Reason: ev.Decision.Reason}
	}

	// Cancellation between the decision and the tool run: the tool never
	// executes, nothing is deducted, but the decision is still recorded.
	if err := ctx.Err(); err != nil {
		p.finalize(&hc, &ev, false, ToolOutput{})
		return nil, err
	}

	out, err := fn(ctx)
	ev.State = StateExecuted

	// Deduct whatever the tool reports, error or not: tokens spent on a
	// failed call are still spent.
	p.finalize(&hc, &ev, true, out)
	return out.Result, err
}

func (p *Pipeline) evaluate(ctx context.Context, hc *model.HookContext) Evaluation {
	start := time.Now()
	ev := Evaluation{State: StatePending}

	for _, s := range p.stages() {
		stageStart := time.Now()
		res := runStage(ctx, s, *hc, ev.Decision)
		p.metrics.StageDuration.WithLabelValues(s.Name).Observe(time.Since(stageStart).Seconds())

		if res.Err != nil {
			if !s.Blocking {
				p.logger.Warn("non-blocking stage failed", zap.String("stage", s.Name), zap.Error(res.Err))
				continue
			}
			// Fail closed: a blocking stage that cannot answer denies.
			ev.State = StateDenied
			ev.Stage = s.Name
			ev.Decision = model.Deny(fmt.Sprintf("internal error in %s: %v", s.Name, res.Err))
			ev.Decision.CheckTime = time.Since(start)
			p.metrics.Denials.WithLabelValues(s.Name).Inc()
			return ev
		}

		if !res.Allowed && s.Blocking {
			ev.State = StateDenied
			ev.Stage = s.Name
			if res.Decision != nil {
				ev.Decision = *res.Decision
			} else {
				ev.Decision = model.Deny(res.Reason)
			}
			ev.Decision.CheckTime = time.Since(start)
			p.metrics.Denials.WithLabelValues(s.Name).Inc()
			return ev
		}

		// A timely result is the only channel for stage mutations: a
		// goroutine abandoned above never reaches this point.
		if res.Hook != nil {
			*hc = *res.Hook
		}
		if res.Identity != nil {
			ev.Identity = res.Identity
		}
		if res.Decision != nil {
			ev.Decision = *res.Decision
		}
	}

	ev.State = StateAllowed
	if ev.Decision.Reason == "" {
		ev.Decision.Reason = "permitted"
	}
	ev.Decision.Allowed = true
	ev.Decision.CheckTime = time.Since(start)
	return ev
}

// stages builds the ordered pre-phase chain. Later stages see what earlier
// ones decided through the snapshot the orchestrator hands each run.
func (p *Pipeline) stages() []Stage {
	return []Stage{
		{
			Name:     "identity-verify",
			Blocking: true,
			Timeout:  p.stageTimeout,
			Run: func(ctx context.Context, hc model.HookContext, _ model.Decision) StageResult {
				return p.verifyIdentity(ctx, hc)
			},
		},
		{
			Name:     "permission-check",
			Blocking: true,
			Timeout:  p.stageTimeout,
			Run: func(_ context.Context, hc model.HookContext, _ model.Decision) StageResult {
				return p.checkPermission(hc)
			},
		},
		{
			Name:     "budget-enforce",
			Blocking: true,
			Timeout:  p.stageTimeout,
			Run: func(_ context.Context, hc model.HookContext, _ model.Decision) StageResult {
				return p.enforceBudget(hc)
			},
		},
		{
			Name:     "approval-gate",
			Blocking: true,
			Timeout:  p.stageTimeout,
			Run: func(_ context.Context, hc model.HookContext, prior model.Decision) StageResult {
				return p.approvalGate(hc, prior)
			},
		},
	}
}

func (p *Pipeline) verifyIdentity(ctx context.Context, hc model.HookContext) StageResult {
	if p.identity == nil {
		return allow("identity verification disabled")
	}

	id, err := p.identity.Resolve(ctx, hc.AgentName)
	if errors.Is(err, identity.ErrNoIdentity) {
		id = identity.SystemIdentity()
	} else if err != nil {
		return deny(fmt.Sprintf("identity rejected: %v", err))
	}

	// Declared context wins nothing over the resolved record: a declared
	// role that contradicts the record is a spoofing attempt.
	if hc.AgentRole != "" && id.Name != identity.SystemAgentName && hc.AgentRole != string(id.Role) {
		return deny(fmt.Sprintf("declared role %q does not match identity record role %q", hc.AgentRole, id.Role))
	}
	if hc.AgentRole == "" {
		hc.AgentRole = string(id.Role)
	}
	if hc.AgentID == "" {
		hc.AgentID = id.AgentID
	}
	return StageResult{Allowed: true, Reason: "identity verified", Identity: id, Hook: &hc}
}

func (p *Pipeline) checkPermission(hc model.HookContext) StageResult {
	checker := rbac.NewChecker(p.Table())
	d := checker.CheckPermission(rbac.Request{
		Role:            model.Role(hc.AgentRole),
		Tool:            hc.Tool(),
		FilePath:        hc.FilePath,
		APIName:         hc.APIName,
		EstimatedTokens: hc.EstimatedTokens,
	})
	return StageResult{Allowed: d.Allowed, Reason: d.Reason, Decision: &d}
}

func (p *Pipeline) enforceBudget(hc model.HookContext) StageResult {
	// The anonymous system caller carries no budget scope.
	if hc.AgentID == "" {
		return allow("no budget scope")
	}
	res := p.budget.Check(hc.AgentID, hc.EstimatedTokens)
	if !res.Allowed {
		return deny(res.Reason)
	}
	return allow("within budget")
}

func (p *Pipeline) approvalGate(hc model.HookContext, prior model.Decision) StageResult {
	if risky, why := highRisk(hc.Command, hc.FilePath); risky {
		return deny(fmt.Sprintf("requires human approval: %s", why))
	}
	if prior.RequiresApproval {
		// Advisory only: the role marks the operation for review but the
		// gate blocks nothing outside the explicit high-risk signatures.
		return allow(prior.Reason)
	}
	return allow("no approval required")
}

// finalize runs the post-phase: budget deduction for executed operations,
// then the audit entry. Failures here are diagnostics, never outcomes.
func (p *Pipeline) finalize(hc *model.HookContext, ev *Evaluation, executed bool, out ToolOutput) {
	if executed && hc.AgentID != "" && (out.InputTokens > 0 || out.OutputTokens > 0) {
		if _, err := p.budget.Deduct(hc.AgentID, out.InputTokens, out.OutputTokens); err != nil {
			p.logger.Warn("budget deduction failed",
				zap.String("agent_id", hc.AgentID), zap.Error(err))
		}
	}

	outcome := "allowed"
	if ev.State == StateDenied {
		outcome = "denied"
	}
	p.metrics.Decisions.WithLabelValues(outcome, hc.ToolName).Inc()

	if p.trail != nil {
		p.trail.Append(p.auditEntry(hc, ev, executed))
		if n := p.trail.FallbackCount(); n > p.fallbackSeen.Swap(n) {
			p.metrics.AuditFallbacks.Inc()
		}
	}
	ev.State = StateFinalized
}

func (p *Pipeline) auditEntry(hc *model.HookContext, ev *Evaluation, executed bool) audit.Entry {
	e := audit.Entry{
		AgentID:      hc.AgentID,
		AgentRole:    hc.AgentRole,
		Operation:    string(hc.Tool().Operation()),
		Tool:         hc.ToolName,
		FilePath:     hc.FilePath,
		APIName:      hc.APIName,
		Allowed:      ev.State != StateDenied,
		BudgetImpact: ev.Decision.BudgetImpact,
		SessionID:    hc.SessionID,
		Metadata: map[string]string{
			"executed":   fmt.Sprintf("%t", executed),
			"rules_hash": p.Table().Hash(),
		},
	}
	if ev.State == StateDenied {
		e.DeniedReason = ev.Decision.Reason
		e.Metadata["stage"] = ev.Stage
	}
	return e
}
