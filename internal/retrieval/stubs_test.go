package retrieval

import (
	"context"
	"fmt"

	"github.com/counselgraph/counselgraph/provider"
	fetch_models "github.com/counselgraph/counselgraph/tools/web_fetch/models"
	search_models "github.com/counselgraph/counselgraph/tools/web_search/models"
)

// fakeProvider satisfies provider.Provider with per-call hooks; any call
// without a hook reports an error so tests notice unexpected use.
type fakeProvider struct {
	generateFn   func(prompt string) (string, error)
	historyFn    func(history []provider.Message, prompt string) (string, error)
	embedFn      func(text string) ([]float32, error)
	embedBatchFn func(texts []string) ([][]float32, error)
	streamFn     func(onChunk func(string) error) error
}

func (f *fakeProvider) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	if f.generateFn == nil {
		return "", fmt.Errorf("unexpected Generate call")
	}
	return f.generateFn(prompt)
}

func (f *fakeProvider) GenerateWithHistory(ctx context.Context, history []provider.Message, prompt, model string, options map[string]interface{}) (string, error) {
	if f.historyFn == nil {
		return "", fmt.Errorf("unexpected GenerateWithHistory call")
	}
	return f.historyFn(history, prompt)
}

func (f *fakeProvider) GenerateStream(ctx context.Context, history []provider.Message, prompt, model string, options map[string]interface{}, onChunk func(string) error) error {
	if f.streamFn == nil {
		return fmt.Errorf("unexpected GenerateStream call")
	}
	return f.streamFn(onChunk)
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedFn == nil {
		return nil, fmt.Errorf("unexpected Embed call")
	}
	return f.embedFn(text)
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embedBatchFn == nil {
		return nil, fmt.Errorf("unexpected EmbedBatch call")
	}
	return f.embedBatchFn(texts)
}

func (f *fakeProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

type fakeSearcher struct {
	fn func(q string) (search_models.Response, error)
}

func (f fakeSearcher) Search(ctx context.Context, q string, opts search_models.Options) (search_models.Response, error) {
	return f.fn(q)
}

type fakeFetcher struct {
	fn func(url string) (fetch_models.Result, error)
}

func (f fakeFetcher) Exec(ctx context.Context, url string) (fetch_models.Result, error) {
	return f.fn(url)
}
