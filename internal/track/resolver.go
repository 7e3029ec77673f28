package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"golang.org/x/sync/singleflight"
)

// ErrResolverUnavailable wraps backing-store failures, which the orchestrator
// must keep distinct from a genuine unknown slug.
var ErrResolverUnavailable = errors.New("resolver store unavailable")

// FunnelStore is the persistent lookup behind the cache. (nil, nil) means the
// slug is unknown.
type FunnelStore interface {
	GetBySlug(ctx context.Context, slug string) (*model.ResolvedFunnel, error)
}

type cacheEntry struct {
	funnel    *model.ResolvedFunnel // nil caches a miss too
	expiresAt time.Time
}

// Resolver is a bounded-staleness read cache over the funnel store. Entries
// expire after TTL; Invalidate drops one slug immediately when the dashboard
// edits it. Concurrent cold-cache lookups of the same slug collapse into a
// single backing read via singleflight, every waiter sharing the result or
// the error.
type Resolver struct {
	store FunnelStore
	ttl   time.Duration
	now   func() time.Time

	sf singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewResolver(store FunnelStore, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// Resolve returns the funnel for slug, (nil, nil) for an unknown slug, or an
// error wrapping ErrResolverUnavailable. Disabled funnels resolve normally;
// distinguishing them is the orchestrator's job.
func (r *Resolver) Resolve(ctx context.Context, slug string) (*model.ResolvedFunnel, error) {
	slug = model.NormalizeSlug(slug)

	r.mu.RLock()
	e, ok := r.cache[slug]
	r.mu.RUnlock()
	if ok && r.now().Before(e.expiresAt) {
		return e.funnel, nil
	}

	v, err, _ := r.sf.Do(slug, func() (any, error) {
		f, err := r.store.GetBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResolverUnavailable, err)
		}
		r.mu.Lock()
		r.cache[slug] = cacheEntry{funnel: f, expiresAt: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ResolvedFunnel), nil
}

// Invalidate drops the cached entry for slug so the next click re-reads the
// store. Called by the dashboard's edit/disable hook.
func (r *Resolver) Invalidate(slug string) {
	slug = model.NormalizeSlug(slug)
	r.mu.Lock()
	delete(r.cache, slug)
	r.mu.Unlock()
}
