package track

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiverlaine/tracktelegram/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFunnelStore struct {
	mu      sync.Mutex
	calls   int64
	funnels map[string]*model.ResolvedFunnel
	err     error
	delay   time.Duration
}

func (s *fakeFunnelStore) GetBySlug(ctx context.Context, slug string) (*model.ResolvedFunnel, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.funnels[slug], nil
}

func activeFunnel(slug string) *model.ResolvedFunnel {
	return &model.ResolvedFunnel{
		Funnel: model.Funnel{ID: "f-" + slug, AccountID: 1, Slug: slug, Status: model.FunnelActive},
	}
}

func TestResolver_CachesWithinTTL(t *testing.T) {
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{"abc123": activeFunnel("abc123")}}
	r := NewResolver(store, time.Minute)

	f, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	require.NotNil(t, f)

	for i := 0; i < 10; i++ {
		_, err := r.Resolve(context.Background(), "abc123")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&store.calls))
}

func TestResolver_TTLExpiryRefetches(t *testing.T) {
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{"abc123": activeFunnel("abc123")}}
	r := NewResolver(store, time.Minute)

	clock := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	_, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)

	clock = clock.Add(61 * time.Second)
	_, err = r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&store.calls))
}

func TestResolver_UnknownSlugIsNilNil(t *testing.T) {
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{}}
	r := NewResolver(store, time.Minute)

	f, err := r.Resolve(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Nil(t, f)

	// misses get cached too
	_, _ = r.Resolve(context.Background(), "zzz")
	assert.Equal(t, int64(1), atomic.LoadInt64(&store.calls))
}

func TestResolver_StoreErrorIsUnavailable(t *testing.T) {
	store := &fakeFunnelStore{err: errors.New("conn refused")}
	r := NewResolver(store, time.Minute)

	_, err := r.Resolve(context.Background(), "abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolverUnavailable)
}

func TestResolver_ErrorsAreNotCached(t *testing.T) {
	store := &fakeFunnelStore{err: errors.New("conn refused")}
	r := NewResolver(store, time.Minute)

	_, err := r.Resolve(context.Background(), "abc123")
	require.Error(t, err)

	store.mu.Lock()
	store.err = nil
	store.funnels = map[string]*model.ResolvedFunnel{"abc123": activeFunnel("abc123")}
	store.mu.Unlock()

	f, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestResolver_ColdCacheLookupsCollapse(t *testing.T) {
	store := &fakeFunnelStore{
		funnels: map[string]*model.ResolvedFunnel{"abc123": activeFunnel("abc123")},
		delay:   20 * time.Millisecond,
	}
	r := NewResolver(store, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := r.Resolve(context.Background(), "abc123")
			assert.NoError(t, err)
			assert.NotNil(t, f)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&store.calls))
}

func TestResolver_InvalidateForcesReRead(t *testing.T) {
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{"abc123": activeFunnel("abc123")}}
	r := NewResolver(store, time.Hour)

	_, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)

	// disable lands in the store, cache invalidated by the dashboard hook
	store.mu.Lock()
	f := activeFunnel("abc123")
	f.Funnel.Status = model.FunnelDisabled
	store.funnels["abc123"] = f
	store.mu.Unlock()
	r.Invalidate("abc123")

	got, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, model.FunnelDisabled, got.Funnel.Status)
	assert.Equal(t, int64(2), atomic.LoadInt64(&store.calls))
}

func TestResolver_SlugNormalized(t *testing.T) {
	store := &fakeFunnelStore{funnels: map[string]*model.ResolvedFunnel{"abc123": activeFunnel("abc123")}}
	r := NewResolver(store, time.Minute)

	f, err := r.Resolve(context.Background(), "  ABC123 ")
	require.NoError(t, err)
	require.NotNil(t, f)

	// uppercase variant hits the same cache entry
	_, _ = r.Resolve(context.Background(), "ABC123")
	assert.Equal(t, int64(1), atomic.LoadInt64(&store.calls))
}
