package budget

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/model"
)

const testAgent = "8c7e6b1a-2f3d-4a5b-9c8d-7e6f5a4b3c2d"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	if err := s.Init(testAgent, 10000, 10.00); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

// --- Init validation ---

func TestInitRejectsBadAgentID(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"", "not-a-uuid", "agent-007"} {
		err := s.Init(id, 1000, 1.0)
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Init(%q) = %v, want ValidationError", id, err)
		}
	}
}

func TestInitRejectsNonV4UUID(t *testing.T) {
	s := NewStore()
	// Valid UUID, but version 1.
	err := s.Init("e6e0288e-21e5-11ee-be56-0242ac120002", 1000, 1.0)
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for v1 UUID, got %v", err)
	}
}

func TestInitRejectsNonPositiveLimits(t *testing.T) {
	s := NewStore()
	if err := s.Init(testAgent, 0, 1.0); err == nil {
		t.Error("expected error for zero token limit")
	}
	if err := s.Init(testAgent, 1000, -5); err == nil {
		t.Error("expected error for negative cost limit")
	}
}

// --- Uninitialized agents ---

func TestCheckUninitializedDenied(t *testing.T) {
	s := NewStore()
	res := s.Check("2d9c8b7a-6f5e-4d3c-8b9a-0f1e2d3c4b5a", 100)
	if res.Allowed {
		t.Fatal("expected denial for uninitialized agent")
	}
	if !strings.Contains(res.Reason, "budget not initialized") {
		t.Errorf("reason %q should mention budget not initialized", res.Reason)
	}
}

func TestDeductUninitializedErrors(t *testing.T) {
	s := NewStore()
	_, err := s.Deduct("2d9c8b7a-6f5e-4d3c-8b9a-0f1e2d3c4b5a", 10, 10)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

// --- Check ---

func TestCheckSessionLimitExceeded(t *testing.T) {
	s := newTestStore(t)
	// 8000 input projects to 12000 against a 10000 limit.
	res := s.Check(testAgent, 8000)
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if !strings.Contains(res.Reason, "Session token limit exceeded") {
		t.Errorf("reason %q should mention session token limit", res.Reason)
	}
}

func TestCheckWithinLimitsAllowed(t *testing.T) {
	s := newTestStore(t)
	res := s.Check(testAgent, 1000)
	if !res.Allowed {
		t.Fatalf("expected allow, got %q", res.Reason)
	}
}

func TestCheckDailyCostLimitExceeded(t *testing.T) {
	s := NewStore()
	if err := s.Init(testAgent, 100_000_000, 0.01); err != nil {
		t.Fatal(err)
	}
	// 1M input + 500k projected output ≈ $10.50 against a $0.01 limit.
	res := s.Check(testAgent, 1_000_000)
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if !strings.Contains(res.Reason, "Daily cost limit exceeded") {
		t.Errorf("reason %q should mention daily cost limit", res.Reason)
	}
}

func TestCheckNeverMutatesUsage(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 1000; i++ {
		s.Check(testAgent, 100)
	}
	st, _ := s.Snapshot(testAgent)
	if st.SessionTokensUsed != 0 {
		t.Errorf("session_tokens_used = %d after checks only, want 0", st.SessionTokensUsed)
	}
	if st.DailyCostUsed != 0 {
		t.Errorf("daily_cost_used = %f after checks only, want 0", st.DailyCostUsed)
	}
}

func TestCheckDenialIncrementsBlocked(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		s.Check(testAgent, 8000)
	}
	st, _ := s.Snapshot(testAgent)
	if st.OperationsBlocked != 3 {
		t.Errorf("operations_blocked = %d, want 3", st.OperationsBlocked)
	}
}

func TestCheckLatency(t *testing.T) {
	s := newTestStore(t)
	start := time.Now()
	for i := 0; i < 100; i++ {
		s.Check(testAgent, 100)
	}
	avg := time.Since(start) / 100
	if avg > 20*time.Millisecond {
		t.Errorf("average Check took %v, expected < 20ms", avg)
	}
}

// --- Deduct ---

func TestDeductSumsExactly(t *testing.T) {
	s := newTestStore(t)
	pairs := [][2]int64{{100, 250}, {30, 0}, {0, 70}, {999, 1}}
	var want int64
	for _, p := range pairs {
		if _, err := s.Deduct(testAgent, p[0], p[1]); err != nil {
			t.Fatal(err)
		}
		want += p[0] + p[1]
	}
	st, _ := s.Snapshot(testAgent)
	if st.SessionTokensUsed != want {
		t.Errorf("session_tokens_used = %d, want %d", st.SessionTokensUsed, want)
	}
}

func TestDeductRejectsNegative(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Deduct(testAgent, -1, 10); err == nil {
		t.Error("expected error for negative input tokens")
	}
}

func TestCalculateCostWithinTolerance(t *testing.T) {
	got := CalculateCost(10000, 30000)
	want := InputPricePerMTok*0.01 + OutputPricePerMTok*0.03
	if math.Abs(got-want) > want*0.10 {
		t.Errorf("CalculateCost(10000, 30000) = %f, want within 10%% of %f", got, want)
	}
}

// --- Resets ---

func TestResetSessionLeavesDailyCost(t *testing.T) {
	s := newTestStore(t)
	s.Deduct(testAgent, 1000, 2000)
	before, _ := s.Snapshot(testAgent)
	if err := s.ResetSession(testAgent); err != nil {
		t.Fatal(err)
	}
	after, _ := s.Snapshot(testAgent)
	if after.SessionTokensUsed != 0 {
		t.Errorf("session_tokens_used = %d after reset, want 0", after.SessionTokensUsed)
	}
	if after.DailyCostUsed != before.DailyCostUsed {
		t.Errorf("daily_cost_used changed: %f -> %f", before.DailyCostUsed, after.DailyCostUsed)
	}
}

func TestDailyResetAtUTCBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return now }
	if err := s.Init(testAgent, 10000, 10.00); err != nil {
		t.Fatal(err)
	}

	s.Deduct(testAgent, 1000, 1000)
	s.Check(testAgent, 8000) // one blocked op

	now = time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC)
	st, _ := s.Snapshot(testAgent)
	if st.DailyCostUsed != 0 {
		t.Errorf("daily_cost_used = %f after day boundary, want 0", st.DailyCostUsed)
	}
	if st.OperationsBlocked != 0 {
		t.Errorf("operations_blocked = %d after day boundary, want 0", st.OperationsBlocked)
	}
	if st.SessionTokensUsed != 2000 {
		t.Errorf("session_tokens_used = %d after daily reset, want 2000 (untouched)", st.SessionTokensUsed)
	}
}

func TestDailyResetHappensOnce(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	if err := s.Init(testAgent, 10000, 10.00); err != nil {
		t.Fatal(err)
	}

	now = now.Add(24 * time.Hour)
	// Many reads across the boundary; the rollover must land exactly once,
	// i.e. deductions after the first post-boundary touch must survive.
	s.Snapshot(testAgent)
	s.Deduct(testAgent, 100, 100)
	s.Snapshot(testAgent)
	s.Check(testAgent, 10)

	st, _ := s.Snapshot(testAgent)
	if st.DailyCostUsed == 0 {
		t.Error("post-boundary deduction was wiped by a second reset")
	}
}

// --- Concurrency ---

func TestConcurrentDeductsNoLostUpdates(t *testing.T) {
	s := NewStore()
	if err := s.Init(testAgent, 1_000_000_000, 100000); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Deduct(testAgent, 10, 5)
		}()
	}
	wg.Wait()

	st, _ := s.Snapshot(testAgent)
	if st.SessionTokensUsed != n*15 {
		t.Errorf("session_tokens_used = %d, want %d", st.SessionTokensUsed, n*15)
	}
}

func TestIndependentAgentsUpdateInParallel(t *testing.T) {
	s := NewStore()
	agents := []string{
		"1a2b3c4d-5e6f-4a1b-8c2d-3e4f5a6b7c8d",
		"9f8e7d6c-5b4a-4f3e-9d2c-1b0a9f8e7d6c",
	}
	for _, a := range agents {
		if err := s.Init(a, 1_000_000, 1000); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for _, a := range agents {
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				s.Deduct(id, 7, 3)
			}(a)
		}
	}
	wg.Wait()

	for _, a := range agents {
		st, _ := s.Snapshot(a)
		if st.SessionTokensUsed != 1000 {
			t.Errorf("agent %s session_tokens_used = %d, want 1000", a, st.SessionTokensUsed)
		}
	}
}
