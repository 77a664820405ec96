package querycache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Saloed/GalaxyAPI/internal/dbexec"
)

func init() {
	gob.Register(time.Time{})
	gob.Register(decimal.Decimal{})
}

// Redis stores gob-encoded rows in Redis with native key expiry.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client. prefix is prepended to every key.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]dbexec.Row, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var rows []dbexec.Row
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rows); err != nil {
		return nil, false, fmt.Errorf("decode cached rows: %w", err)
	}
	return rows, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, rows []dbexec.Row, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, buf.Bytes(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
