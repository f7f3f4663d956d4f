package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/model"
)

// ErrNotInitialized is returned when an agent has no budget state.
// Operations against an uninitialized agent are never silently allowed.
var ErrNotInitialized = fmt.Errorf("budget not initialized")

// agentState holds one agent's counters behind its own lock, so different
// agents deduct in parallel without contending.
type agentState struct {
	mu    sync.Mutex
	state BudgetState
}

// Store owns all per-agent budget state, keyed by agent ID. It is a handle,
// not a process singleton: tests and embedders create as many isolated
// stores as they need.
type Store struct {
	mu     sync.RWMutex
	agents map[string]*agentState

	// now is swappable in tests to cross UTC-day boundaries.
	now func() time.Time
}

// NewStore creates an empty budget store.
func NewStore() *Store {
	return &Store{
		agents: make(map[string]*agentState),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Init creates budget state for an agent. The agent ID must be a valid
// UUIDv4 and both limits must be positive; anything else is a caller bug
// reported as a ValidationError.
func (s *Store) Init(agentID string, sessionTokenLimit int64, dailyCostLimit float64) error {
	u, err := uuid.Parse(agentID)
	if err != nil || u.Version() != 4 {
		return model.NewValidationError("agent_id", "%q is not a valid UUIDv4", agentID)
	}
	if sessionTokenLimit <= 0 {
		return model.NewValidationError("session_token_limit", "must be positive, got %d", sessionTokenLimit)
	}
	if dailyCostLimit <= 0 {
		return model.NewValidationError("daily_cost_limit", "must be positive, got %.2f", dailyCostLimit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; ok {
		return nil // already initialized, limits are fixed for the session
	}
	s.agents[agentID] = &agentState{
		state: BudgetState{
			AgentID:           agentID,
			SessionTokenLimit: sessionTokenLimit,
			DailyCostLimit:    dailyCostLimit,
			LastDailyReset:    s.now(),
		},
	}
	return nil
}

// lookup returns the agent's state holder, or nil if never initialized.
func (s *Store) lookup(agentID string) *agentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[agentID]
}

// Check is the pre-flight budget gate. It projects a worst-case total
// (input plus the output projection) and rejects if the projection would
// cross the session token ceiling or the daily cost ceiling. Usage counters
// are never mutated here; a rejection increments operations_blocked only.
// Check may race with a concurrent Deduct for the same agent — Deduct is
// the sole source of truth, so the race is harmless.
func (s *Store) Check(agentID string, estimatedInput int64) CheckResult {
	a := s.lookup(agentID)
	if a == nil {
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("budget not initialized for agent %q", agentID)}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s.maybeResetDaily(&a.state)

	projected := ProjectTokens(estimatedInput)
	if a.state.SessionTokensUsed+projected > a.state.SessionTokenLimit {
		a.state.OperationsBlocked++
		return CheckResult{
			Allowed: false,
			Reason: fmt.Sprintf("Session token limit exceeded: %d used + %d projected > %d limit",
				a.state.SessionTokensUsed, projected, a.state.SessionTokenLimit),
		}
	}

	projectedCost := CalculateCost(estimatedInput, projected-estimatedInput)
	if a.state.DailyCostUsed+projectedCost > a.state.DailyCostLimit {
		a.state.OperationsBlocked++
		return CheckResult{
			Allowed: false,
			Reason: fmt.Sprintf("Daily cost limit exceeded: $%.4f used + $%.4f projected > $%.2f limit",
				a.state.DailyCostUsed, projectedCost, a.state.DailyCostLimit),
		}
	}

	return CheckResult{Allowed: true}
}

// Deduct records actual consumption after the operation ran and returns the
// updated snapshot. Counters only ever grow here; resets are the only path
// down, so nothing can go negative.
func (s *Store) Deduct(agentID string, inputTokens, outputTokens int64) (BudgetState, error) {
	a := s.lookup(agentID)
	if a == nil {
		return BudgetState{}, fmt.Errorf("%w: agent %q", ErrNotInitialized, agentID)
	}
	if inputTokens < 0 || outputTokens < 0 {
		return BudgetState{}, model.NewValidationError("tokens", "negative token counts: in=%d out=%d", inputTokens, outputTokens)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	s.maybeResetDaily(&a.state)

	a.state.SessionTokensUsed += inputTokens + outputTokens
	a.state.DailyCostUsed += CalculateCost(inputTokens, outputTokens)
	return a.state, nil
}

// ResetSession zeroes the session token counter. Daily cost and the blocked
// counter are untouched.
func (s *Store) ResetSession(agentID string) error {
	a := s.lookup(agentID)
	if a == nil {
		return fmt.Errorf("%w: agent %q", ErrNotInitialized, agentID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.SessionTokensUsed = 0
	return nil
}

// Snapshot returns a copy of the agent's current state.
func (s *Store) Snapshot(agentID string) (BudgetState, bool) {
	a := s.lookup(agentID)
	if a == nil {
		return BudgetState{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s.maybeResetDaily(&a.state)
	return a.state, true
}

// maybeResetDaily performs the lazy UTC-day rollover. Called with the agent
// lock held from every read-modify path, so the reset happens exactly once
// per day boundary no matter the call volume. Session tokens survive it.
func (s *Store) maybeResetDaily(st *BudgetState) {
	now := s.now()
	y1, m1, d1 := st.LastDailyReset.UTC().Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return
	}
	st.DailyCostUsed = 0
	st.OperationsBlocked = 0
	st.LastDailyReset = now
}
