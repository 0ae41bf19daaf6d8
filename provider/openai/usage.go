package openai_provider

import (
	"context"
	"sync"
)

// Usage is the token and cost outcome of one API call.
type Usage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// UsageFunc receives every call's usage, typically to feed metrics.
type UsageFunc func(model string, inputTokens, outputTokens int64, cost float64)

// UsageCollector accumulates usage across the calls made under one
// context, so a caller can attribute spend to a unit of work.
type UsageCollector struct {
	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	cost         float64
}

func (c *UsageCollector) Add(u Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputTokens += u.InputTokens
	c.outputTokens += u.OutputTokens
	c.cost += u.Cost
}

func (c *UsageCollector) Totals() (inputTokens, outputTokens int64, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTokens, c.outputTokens, c.cost
}

type usageKey struct{}

// WithUsageCollector attaches a collector; the client adds every call's
// usage to it in addition to invoking the global UsageFunc.
func WithUsageCollector(ctx context.Context, c *UsageCollector) context.Context {
	return context.WithValue(ctx, usageKey{}, c)
}

func UsageCollectorFrom(ctx context.Context) (*UsageCollector, bool) {
	c, ok := ctx.Value(usageKey{}).(*UsageCollector)
	return c, ok
}
