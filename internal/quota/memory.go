package quota

import (
	"context"
	"sync"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
)

// MemoryGate keeps counters in process memory behind a per-account mutex.
// It backs tests and single-node dev runs; production uses the SQL-backed
// click service so correctness holds across handler instances.
type MemoryGate struct {
	mu       sync.Mutex
	counters map[int64]*memCounter

	DefaultLimit int64
	Window       time.Duration
	Now          func() time.Time
}

type memCounter struct {
	mu sync.Mutex
	c  model.UsageCounter
}

func NewMemoryGate(defaultLimit int64, window time.Duration) *MemoryGate {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &MemoryGate{
		counters:     make(map[int64]*memCounter),
		DefaultLimit: defaultLimit,
		Window:       window,
		Now:          time.Now,
	}
}

func (g *MemoryGate) entry(accountID int64) *memCounter {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.counters[accountID]
	if !ok {
		now := g.Now()
		e = &memCounter{c: model.UsageCounter{
			AccountID:   accountID,
			WindowStart: now,
			WindowEnd:   now.Add(g.Window),
			Limit:       g.DefaultLimit,
		}}
		g.counters[accountID] = e
	}
	return e
}

// TryDebit atomically applies one debit. The envelope is accepted for
// interface parity with the SQL gate and ignored here; in-memory runs dispatch
// nothing downstream.
func (g *MemoryGate) TryDebit(ctx context.Context, accountID int64, env *model.ConversionEnvelope) (Outcome, error) {
	e := g.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	var out Outcome
	e.c, out = Apply(e.c, g.Now())
	return out, nil
}

func (g *MemoryGate) CurrentUsage(ctx context.Context, accountID int64) (model.UsageCounter, error) {
	e := g.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c, nil
}

// SetLimit changes the plan limit only. Used is never rewound, so a downgrade
// below current usage denies every debit until the next window.
func (g *MemoryGate) SetLimit(ctx context.Context, accountID int64, limit int64) error {
	e := g.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.c.Limit = limit
	return nil
}
