// Package querycache stores query results keyed by endpoint, parameters and
// page, with a per-entry time to live.
package querycache

import (
	"context"
	"fmt"
	"time"

	"github.com/Saloed/GalaxyAPI/internal/binding"
	"github.com/Saloed/GalaxyAPI/internal/dbexec"
	"github.com/Saloed/GalaxyAPI/internal/fingerprint"
)

// KeyPrefix starts every cache key.
const KeyPrefix = "galaxy.api.query."

// Cache is a TTL store of query results. A miss is (nil, false, nil).
// Concurrent writers of the same key race; the last one wins.
type Cache interface {
	Get(ctx context.Context, key string) ([]dbexec.Row, bool, error)
	Set(ctx context.Context, key string, rows []dbexec.Row, ttl time.Duration) error
}

// PageKey is the page component of a cache key.
type PageKey struct {
	Key    string
	Size   int
	Number int
}

// Key derives a stable cache key. identity names the query (endpoint name
// and SQL hash). Pairs are sorted by name, so caller ordering never changes
// the key, while any changed value does.
func Key(identity string, static, filters []binding.Pair, page *PageKey) string {
	h := fingerprint.New()
	h.Add(identity)
	h.Add("rp")
	for _, p := range binding.SortedPairs(static) {
		h.Add(p.Name)
		h.Add(p.Value)
	}
	h.Add("p")
	for _, p := range binding.SortedPairs(filters) {
		h.Add(p.Name)
		h.Add(p.Value)
	}
	h.Add("pg")
	if page != nil {
		h.Add(fmt.Sprintf("%s:%d:%d", page.Key, page.Size, page.Number))
	}
	return KeyPrefix + h.Sum()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]dbexec.Row, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, string, []dbexec.Row, time.Duration) error {
	return nil
}
