package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func (failingCache) Remove(context.Context, ...string) error {
	return errors.New("cache down")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemorySetGetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, m.Remove(ctx, "k", "missing"))
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, m.Set(ctx, "k", []byte("v"), 0))
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	time.Sleep(60 * time.Millisecond)
	_, ok, err := m.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAsideSwallowsCacheFailures(t *testing.T) {
	ctx := context.Background()
	a := NewAside(failingCache{}, DefaultTTLs(), quietLogger())

	_, ok := GetJSON[string](ctx, a, "k")
	assert.False(t, ok)
	a.SetJSON(ctx, "k", "v", time.Minute)
	a.Invalidate(ctx, "k")

	calls := 0
	v, err := GetOrLoad(ctx, a, "k", time.Minute, func(context.Context) (string, error) {
		calls++
		return "from-store", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from-store", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrLoadCachesOnlySuccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()
	a := NewAside(m, DefaultTTLs(), quietLogger())

	_, err := GetOrLoad(ctx, a, "k", time.Minute, func(context.Context) ([]int, error) {
		return nil, errors.New("store down")
	})
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())

	calls := 0
	load := func(context.Context) ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}
	for range 3 {
		v, err := GetOrLoad(ctx, a, "k", time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, v)
	}
	assert.Equal(t, 1, calls)

	a.Invalidate(ctx, "k")
	_, err = GetOrLoad(ctx, a, "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUndecodableEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()
	a := NewAside(m, DefaultTTLs(), quietLogger())

	require.NoError(t, m.Set(ctx, "k", []byte("not json"), time.Minute))
	_, ok := GetJSON[map[string]string](ctx, a, "k")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok, "bad entry is dropped")
}

func TestNilAsideCachesNothing(t *testing.T) {
	var a *Aside
	ctx := context.Background()
	a.SetJSON(ctx, "k", 1, time.Minute)
	a.Invalidate(ctx, "k")
	_, ok := GetJSON[int](ctx, a, "k")
	assert.False(t, ok)
	assert.Nil(t, NewAside(nil, DefaultTTLs(), nil))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "evalrun:agent-1:r1", RunKey("agent-1", "r1"))
	assert.Equal(t, "evalruns:agent-1", RunListKey("agent-1"))
	assert.Equal(t, "dataset_content:d1", DatasetContentKey("d1"))
	assert.Equal(t, "metricsconfig_content:m1", MetricsConfigContentKey("m1"))
	assert.Equal(t, "metricsconfigs:agent-1", MetricsConfigListKey("agent-1"))
}
