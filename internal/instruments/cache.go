// Package instruments caches per-symbol quantization rules.
package instruments

import (
	"context"
	"sync"

	"signal_trader/internal/core"
)

// RulesFetcher retrieves quantization rules from the venue. core.IExchange
// satisfies it.
type RulesFetcher interface {
	InstrumentRules(ctx context.Context, symbol string) (core.InstrumentRules, error)
}

// Cache memoizes instrument rules per symbol, fetching on first use. Rules
// change rarely enough that entries live for the process lifetime.
type Cache struct {
	fetcher RulesFetcher

	mu    sync.RWMutex
	rules map[string]core.InstrumentRules
}

// NewCache creates an empty cache backed by fetcher.
func NewCache(fetcher RulesFetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		rules:   make(map[string]core.InstrumentRules),
	}
}

// Rules returns the cached rules for symbol, fetching them on a miss.
func (c *Cache) Rules(ctx context.Context, symbol string) (core.InstrumentRules, error) {
	c.mu.RLock()
	r, ok := c.rules[symbol]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}

	r, err := c.fetcher.InstrumentRules(ctx, symbol)
	if err != nil {
		return core.InstrumentRules{}, err
	}

	c.mu.Lock()
	c.rules[symbol] = r
	c.mu.Unlock()
	return r, nil
}
