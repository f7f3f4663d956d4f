package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Sink is anything that can durably accept an audit entry.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// DefaultSinkTimeout bounds one primary-sink write attempt.
const DefaultSinkTimeout = 2 * time.Second

// defaultQueueSize bounds the in-flight entry queue. At realistic decision
// volumes the single writer drains far faster than entries arrive.
const defaultQueueSize = 1024

// Trail is the fire-and-forget audit writer. Append never blocks the
// decision path: entries go onto a bounded queue drained by one writer
// goroutine, which keeps per-agent entries timestamp-consistent. Primary
// writes run behind a circuit breaker with bounded retries; failures
// degrade to the chain-log fallback, and a failure there is only a
// diagnostic — never an error surfaced to the caller.
type Trail struct {
	queue    chan Entry
	primary  Sink
	fallback *ChainLog
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
	timeout  time.Duration

	fallbackHits atomic.Int64
	dropped      atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewTrail creates a Trail. Either sink may be nil; with both nil every
// entry is dropped with a diagnostic, which is a misconfiguration but not
// a reason to block tool calls.
func NewTrail(primary Sink, fallback *ChainLog, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trail{
		queue:    make(chan Entry, defaultQueueSize),
		primary:  primary,
		fallback: fallback,
		logger:   logger.Named("audit"),
		timeout:  DefaultSinkTimeout,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "audit-primary",
			Interval: 10 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 3
			},
		}),
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for e := range t.queue {
			t.write(e)
		}
	}()

	return t
}

// Append enqueues an entry. If the queue is saturated or the trail is
// already closed, the entry goes straight to the fallback sink so it is
// still recoverable.
func (t *Trail) Append(e Entry) {
	if e.Timestamp == "" {
		e.Timestamp = Now()
	}

	if t.closed.Load() {
		t.writeFallback(e)
		return
	}

	select {
	case t.queue <- e:
	default:
		t.logger.Warn("audit queue saturated, writing entry to fallback",
			zap.String("agent_id", e.AgentID))
		t.writeFallback(e)
	}
}

// FallbackCount reports how many entries went to the fallback sink.
func (t *Trail) FallbackCount() int64 {
	return t.fallbackHits.Load()
}

// DroppedCount reports how many entries were lost entirely.
func (t *Trail) DroppedCount() int64 {
	return t.dropped.Load()
}

// Close drains the queue and stops the writer. Sinks are owned by the
// caller and stay open.
func (t *Trail) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.queue)
		t.wg.Wait()
	})
}

func (t *Trail) write(e Entry) {
	if t.primary == nil {
		t.writeFallback(e)
		return
	}

	_, err := t.cb.Execute(func() (any, error) {
		r := retry.New(
			retry.Attempts(2),
			retry.Delay(50*time.Millisecond),
		)
		return nil, r.Do(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			defer cancel()
			return t.primary.Append(ctx, e)
		})
	})
	if err == nil {
		return
	}

	t.logger.Warn("primary audit sink unavailable, degrading to fallback",
		zap.Error(err), zap.String("agent_id", e.AgentID))
	t.writeFallback(e)
}

func (t *Trail) writeFallback(e Entry) {
	if t.fallback == nil {
		t.dropped.Add(1)
		t.logger.Error("audit entry dropped: no fallback sink configured",
			zap.String("agent_id", e.AgentID), zap.String("tool", e.Tool))
		return
	}
	if err := t.fallback.Record(e); err != nil {
		t.dropped.Add(1)
		t.logger.Error("audit entry dropped: fallback sink failed",
			zap.Error(err), zap.String("agent_id", e.AgentID))
		return
	}
	t.fallbackHits.Add(1)
}
