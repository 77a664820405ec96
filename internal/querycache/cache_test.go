package querycache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saloed/GalaxyAPI/internal/binding"
	"github.com/Saloed/GalaxyAPI/internal/dbexec"
)

func TestKeyDeterministic(t *testing.T) {
	static := []binding.Pair{{Name: "faculty", Value: "3"}, {Name: "term", Value: "2024"}}
	filters := []binding.Pair{{Name: "year", Value: "2"}, {Name: "name", Value: "Ann"}}
	page := &PageKey{Key: "id", Size: 20, Number: 1}

	key := Key("students", static, filters, page)
	assert.True(t, strings.HasPrefix(key, KeyPrefix))

	reordered := Key("students",
		[]binding.Pair{static[1], static[0]},
		[]binding.Pair{filters[1], filters[0]},
		&PageKey{Key: "id", Size: 20, Number: 1})
	assert.Equal(t, key, reordered)

	assert.NotEqual(t, key, Key("students", static, filters, &PageKey{Key: "id", Size: 20, Number: 2}))
	assert.NotEqual(t, key, Key("students", static, filters, nil))
	assert.NotEqual(t, key, Key("students", static, []binding.Pair{{Name: "year", Value: "3"}, filters[1]}, page))
	assert.NotEqual(t, key, Key("teachers", static, filters, page))
	assert.NotEqual(t,
		Key("q", []binding.Pair{{Name: "a", Value: "1"}}, nil, nil),
		Key("q", nil, []binding.Pair{{Name: "a", Value: "1"}}, nil),
		"static and filter values are separate key components")
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	rows := []dbexec.Row{{"id": int64(1)}}
	require.NoError(t, cache.Set(ctx, "k", rows, time.Minute))

	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rows, got)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len(), "expired item is removed on read")

	_, ok, _ = cache.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestMemoryCleanupExpired(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "short", []dbexec.Row{{}}, time.Second))
	require.NoError(t, cache.Set(ctx, "long", []dbexec.Row{{}}, time.Hour))
	now = now.Add(time.Minute)

	assert.Equal(t, 1, cache.CleanupExpired())
	assert.Equal(t, 1, cache.Len())
}

func TestRedisRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	cache := NewRedis(client, "test:")
	require.NoError(t, cache.Ping(ctx))

	born := time.Date(2000, 5, 6, 0, 0, 0, 0, time.UTC)
	rows := []dbexec.Row{
		{"id": int64(1), "name": "Ann", "born": born, "fee": decimal.RequireFromString("10.25"), "note": nil, "active": true},
	}
	require.NoError(t, cache.Set(ctx, "k", rows, time.Minute))
	assert.True(t, srv.Exists("test:k"))

	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0]["id"])
	assert.Equal(t, "Ann", got[0]["name"])
	assert.True(t, born.Equal(got[0]["born"].(time.Time)))
	assert.True(t, decimal.RequireFromString("10.25").Equal(got[0]["fee"].(decimal.Decimal)))
	assert.Nil(t, got[0]["note"])
	assert.Equal(t, true, got[0]["active"])

	srv.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisErrors(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, srv.Set("bad", "not gob"))
	_, _, err := NewRedis(client, "").Get(ctx, "bad")
	assert.ErrorContains(t, err, "decode cached rows")

	srv.Close()
	_, _, err = NewRedis(client, "").Get(ctx, "k")
	assert.ErrorContains(t, err, "redis get")
}

func TestNoop(t *testing.T) {
	var cache Cache = Noop{}
	require.NoError(t, cache.Set(context.Background(), "k", []dbexec.Row{{}}, time.Minute))
	_, ok, err := cache.Get(context.Background(), "k")
	assert.NoError(t, err)
	assert.False(t, ok)
}
