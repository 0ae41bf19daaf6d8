package provider

import (
	"context"
	"fmt"

	"github.com/counselgraph/counselgraph/config"
	openai_provider "github.com/counselgraph/counselgraph/provider/openai"
)

// Message is a single turn of a conversation passed to the model.
type Message = openai_provider.Message

// Usage is the token and cost outcome of one model call.
type Usage = openai_provider.Usage

// UsageFunc receives every call's usage, typically to feed metrics.
type UsageFunc = openai_provider.UsageFunc

// UsageCollector accumulates usage across the calls made under one context.
type UsageCollector = openai_provider.UsageCollector

// WithUsageCollector attaches a collector to the context; providers add
// every call's usage to it in addition to invoking the global UsageFunc.
func WithUsageCollector(ctx context.Context, c *UsageCollector) context.Context {
	return openai_provider.WithUsageCollector(ctx, c)
}

// UsageCollectorFrom returns the collector attached to the context, if any.
func UsageCollectorFrom(ctx context.Context) (*UsageCollector, bool) {
	return openai_provider.UsageCollectorFrom(ctx)
}

// Provider is the interface all LLM implementations must satisfy.
type Provider interface {
	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithHistory produces a completion for a prompt preceded by
	// prior conversation turns.
	GenerateWithHistory(ctx context.Context, history []Message, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateStream produces a completion incrementally, invoking onChunk
	// for each piece of text as the model yields it. A non-nil error from
	// onChunk aborts the stream.
	GenerateStream(ctx context.Context, history []Message, prompt string, model string, options map[string]interface{}, onChunk func(string) error) error

	// Embed returns the embedding vector for a single input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embedding vectors for the inputs, in order. All
	// vectors returned by one provider share a single dimensionality.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// CalculateCost estimates the dollar cost of a call.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// NewProvider creates an LLM provider from configuration. The first
// configured provider entry wins. usage may be nil; when set it receives
// token counts and cost for every model call.
func NewProvider(cfg config.LLMConfig, usage UsageFunc) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			return openai_provider.New(p, usage), nil
		case "anthropic":
			return nil, fmt.Errorf("anthropic provider not implemented yet")
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
