package owner

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/alucardeht/dynmethod/internal/lsp"
)

// CachedSearcher memoises workspace searches. A scan asks for the same owner
// name once per registration, so repeated names cost one round trip.
// Concurrent identical searches share a single downstream request.
type CachedSearcher struct {
	next  WorkspaceSearcher
	cache *expirable.LRU[string, []lsp.SymbolInformation]
	group singleflight.Group
}

func NewCachedSearcher(next WorkspaceSearcher, size int, ttl time.Duration) *CachedSearcher {
	if size <= 0 {
		size = 256
	}
	return &CachedSearcher{
		next:  next,
		cache: expirable.NewLRU[string, []lsp.SymbolInformation](size, nil, ttl),
	}
}

func (c *CachedSearcher) WorkspaceSymbols(ctx context.Context, query string) ([]lsp.SymbolInformation, error) {
	if symbols, ok := c.cache.Get(query); ok {
		return symbols, nil
	}

	v, err, _ := c.group.Do(query, func() (interface{}, error) {
		symbols, err := c.next.WorkspaceSymbols(ctx, query)
		if err != nil {
			return nil, err
		}
		c.cache.Add(query, symbols)
		return symbols, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]lsp.SymbolInformation), nil
}

// Purge drops every cached answer; declarations move whenever a file changes.
func (c *CachedSearcher) Purge() {
	c.cache.Purge()
}

func (c *CachedSearcher) Len() int {
	return c.cache.Len()
}
