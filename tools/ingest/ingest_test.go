package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/counselgraph/counselgraph/provider"
	"github.com/counselgraph/counselgraph/session/inmemory"
	"github.com/counselgraph/counselgraph/session/session_models"
)

type embedOnlyProvider struct {
	batchFn func(texts []string) ([][]float32, error)
}

func (p embedOnlyProvider) Generate(ctx context.Context, prompt, model string, options map[string]interface{}) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (p embedOnlyProvider) GenerateWithHistory(ctx context.Context, history []provider.Message, prompt, model string, options map[string]interface{}) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (p embedOnlyProvider) GenerateStream(ctx context.Context, history []provider.Message, prompt, model string, options map[string]interface{}, onChunk func(string) error) error {
	return fmt.Errorf("not implemented")
}

func (p embedOnlyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p embedOnlyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.batchFn(texts)
}

func (p embedOnlyProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

func TestMakeChunksOverlap(t *testing.T) {
	text := strings.Repeat("a", 1000) + strings.Repeat("b", 1000) + strings.Repeat("c", 500)
	chunks := makeChunks(text, 1000, 200)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevTail := chunks[i-1][len(chunks[i-1])-200:]
		if !strings.HasPrefix(chunks[i], prevTail) {
			t.Fatalf("chunk %d does not start with the previous chunk's tail", i)
		}
	}
}

func TestMakeChunksShortText(t *testing.T) {
	chunks := makeChunks("  short document  ", 1000, 200)
	if len(chunks) != 1 || chunks[0] != "short document" {
		t.Fatalf("got %v", chunks)
	}
}

func TestRunIndexesAndEmbeds(t *testing.T) {
	prov := embedOnlyProvider{batchFn: func(texts []string) ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = []float32{1, 0}
		}
		return vecs, nil
	}}
	ing := NewIngest(inmemory.NewStore(), prov, 2, nil)

	docs := []session_models.DocInput{
		{URL: "https://example.com/msa", Title: "MSA", Text: strings.Repeat("liability ", 300)},
		{URL: "https://example.com/empty", Title: "Empty", Text: "   "},
	}
	resp, err := ing.Run(context.Background(), "matter-1", docs, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.SessionID != "matter-1" {
		t.Fatalf("session id = %q", resp.SessionID)
	}
	if resp.Chunks < 2 {
		t.Fatalf("expected the long document to split into multiple chunks, got %d", resp.Chunks)
	}
	if resp.Embedded != resp.Chunks || resp.IndexedBM != resp.Chunks {
		t.Fatalf("expected every chunk indexed and embedded: %+v", resp)
	}
}

func TestRunEmbedDimensionMismatch(t *testing.T) {
	prov := embedOnlyProvider{batchFn: func(texts []string) ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = []float32{1, 0, 0}
		}
		return vecs, nil
	}}
	ing := NewIngest(inmemory.NewStore(), prov, 2, nil)

	_, err := ing.Run(context.Background(), "matter-1", []session_models.DocInput{{Title: "Doc", Text: "some text"}}, 1)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestRunSurvivesEmbedFailure(t *testing.T) {
	prov := embedOnlyProvider{batchFn: func(texts []string) ([][]float32, error) {
		return nil, fmt.Errorf("embedding backend down")
	}}
	ing := NewIngest(inmemory.NewStore(), prov, 0, nil)

	resp, err := ing.Run(context.Background(), "matter-1", []session_models.DocInput{{Title: "Doc", Text: "some text"}}, 1)
	if err != nil {
		t.Fatalf("Run should tolerate embedding failure: %v", err)
	}
	if resp.Chunks != 1 || resp.Embedded != 0 {
		t.Fatalf("expected indexed but unembedded chunks: %+v", resp)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	ing := NewIngest(inmemory.NewStore(), nil, 0, nil)
	if _, err := ing.Run(context.Background(), "matter-1", nil, 1); err == nil {
		t.Fatal("expected error for empty document list")
	}
}
