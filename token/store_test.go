package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "first"))
	require.NoError(t, s.Set(ctx, "second"))

	got, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", got)
}

func TestMemoryStore_EmptyTokenIsPresent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, ""))
	_, ok, _ := s.Get(ctx)
	assert.True(t, ok)
}

// fakeRedis satisfies cache.Rediser with a map.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error {
	return nil
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	s := NewRedisStore(rdb, "hasura.example.com", time.Minute)
	assert.Equal(t, "jwtgraph.token.hasura.example.com", s.Key())

	_, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "redis.Nil must read as absent")

	require.NoError(t, s.Set(ctx, "a.b.c"))
	got, ok, err := s.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a.b.c", got)
	assert.Equal(t, time.Minute, rdb.ttls[s.Key()])
}

func TestRedisStore_Errors(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	s := NewRedisStore(rdb, "hasura.example.com", 0)

	_, _, err := s.Get(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	err = s.Set(ctx, "a.b.c")
	assert.Error(t, err)
}
