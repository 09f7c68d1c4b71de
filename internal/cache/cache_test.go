package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/drawing-extractor/internal/config"
)

func TestMemoryClient_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_EvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, SessionCacheKey("s1", "a"), []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, SessionCacheKey("s1", "b"), []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, SessionCacheKey("s10", "a"), []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, SessionPrefix("s1")))
	assert.Equal(t, 1, c.Len())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "a:b:c", CacheKey("a", "b", "c"))
	assert.Equal(t, "s:abc:x", SessionCacheKey("abc", "x"))
	assert.Equal(t, "s:abc:", SessionPrefix("abc"))
}

func TestNew(t *testing.T) {
	c, err := New(config.CacheConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(config.CacheConfig{Driver: "memory", MaxEntries: 5})
	require.NoError(t, err)
	require.NotNil(t, c)
	_ = c.Close()

	_, err = New(config.CacheConfig{Driver: "bogus"})
	assert.Error(t, err)
}

type countingModel struct {
	calls atomic.Int32
	err   error
}

func (m *countingModel) Complete(_ context.Context, prompt string, _ []byte) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	return "echo " + prompt, nil
}

func TestModel_CachesSuccessfulTranscripts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryClient(10)
	defer mem.Close()
	inner := &countingModel{}
	m := NewModel(inner, mem, "sess", time.Minute, nil)

	for i := 0; i < 3; i++ {
		out, err := m.Complete(ctx, "p", []byte("img"))
		require.NoError(t, err)
		assert.Equal(t, "echo p", out)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	_, err := m.Complete(ctx, "p", []byte("other image"))
	require.NoError(t, err)
	_, err = m.Complete(ctx, "q", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())

	require.NoError(t, mem.DeleteByPrefix(ctx, SessionPrefix("sess")))
	assert.Equal(t, 0, mem.Len())
}

func TestModel_DoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryClient(10)
	defer mem.Close()
	inner := &countingModel{err: errors.New("boom")}
	m := NewModel(inner, mem, "sess", time.Minute, nil)

	_, err := m.Complete(ctx, "p", nil)
	assert.Error(t, err)
	_, err = m.Complete(ctx, "p", nil)
	assert.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, mem.Len())
}

func TestNewModel_NilClientReturnsInner(t *testing.T) {
	inner := &countingModel{}
	assert.Same(t, inner, NewModel(inner, nil, "s", 0, nil))
}
