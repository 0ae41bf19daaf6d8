package retrieval

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/counselgraph/counselgraph/config"
)

func scoredDoc(url string, score float64) RetrievedDocument {
	return RetrievedDocument{
		Content:  "content of " + url,
		Metadata: DocumentMeta{SourceURL: url, SimilarityScore: score},
	}
}

func TestFilterAndSortThresholdIsExclusive(t *testing.T) {
	docs := []RetrievedDocument{
		scoredDoc("at-threshold", 0.3),
		scoredDoc("just-above", 0.3 + 1e-9),
		scoredDoc("high", 0.9),
		scoredDoc("below", 0.1),
		scoredDoc("mid-a", 0.5),
		scoredDoc("mid-b", 0.5),
	}
	kept := filterAndSort(docs, 0.3)

	got := make([]string, len(kept))
	for i, d := range kept {
		got[i] = d.Metadata.SourceURL
	}
	// Equal scores keep received order; exactly-at-threshold is excluded.
	want := []string{"high", "mid-a", "mid-b", "just-above"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRerankSummarizeBypassesScoring(t *testing.T) {
	r := NewReranker(&config.Config{}, &fakeProvider{}) // any embed call errors

	docs := make([]RetrievedDocument, 20)
	for i := range docs {
		docs[i] = scoredDoc(fmt.Sprintf("https://example.com/%d", i), 0)
	}
	out, err := r.Rerank(context.Background(), "  Summarize ", docs, nil, ModeBalanced)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 15 {
		t.Fatalf("expected first 15 docs, got %d", len(out))
	}
	for i, d := range out {
		if d.Metadata.SourceURL != docs[i].Metadata.SourceURL {
			t.Fatalf("order changed at %d: %s", i, d.Metadata.SourceURL)
		}
	}
}

func TestRerankSpeedNoChunksPassesDocsThrough(t *testing.T) {
	r := NewReranker(&config.Config{}, &fakeProvider{})

	docs := make([]RetrievedDocument, 20)
	for i := range docs {
		docs[i] = scoredDoc(fmt.Sprintf("https://example.com/%d", i), 0)
	}
	out, err := r.Rerank(context.Background(), "liability caps", docs, nil, ModeSpeed)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 15 {
		t.Fatalf("expected cap at 15, got %d", len(out))
	}
}

func TestRerankSpeedMixesLocalAndSearch(t *testing.T) {
	prov := &fakeProvider{
		embedFn: func(text string) ([]float32, error) { return []float32{1, 0}, nil },
	}
	r := NewReranker(&config.Config{}, prov)

	// cosine against [1,0]: [1,0]=1.0, [1,1]~0.707, [1,2]~0.447,
	// [2,3]~0.555, [1,3]~0.316, [0,1]=0, [1,5]~0.196.
	chunks := []LocalChunk{
		{Text: "c0", Embedding: []float32{0, 1}},
		{Text: "c1", Embedding: []float32{1, 1}},
		{Text: "c2", Embedding: []float32{1, 5}},
		{Text: "c3", Embedding: []float32{1, 0}},
		{Text: "c4", Embedding: []float32{1, 2}},
		{Text: "c5", Embedding: []float32{1, 5}},
		{Text: "c6", Embedding: []float32{2, 3}},
		{Text: "c7", Embedding: []float32{0, 1}},
		{Text: "c8", Embedding: []float32{1, 3}},
		{Text: "c9", Embedding: []float32{1, 5}},
	}
	docs := []RetrievedDocument{
		scoredDoc("https://example.com/a", 0),
		scoredDoc("https://example.com/b", 0),
		scoredDoc("https://example.com/c", 0),
		scoredDoc("https://example.com/d", 0),
		scoredDoc("https://example.com/e", 0),
	}

	out, err := r.Rerank(context.Background(), "indemnification", docs, chunks, ModeSpeed)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	// 5 chunks score above 0.3 (c3, c1, c6, c4, c8) then the 5 docs.
	if len(out) != 10 {
		t.Fatalf("expected 10 results, got %d", len(out))
	}
	wantLocal := []string{"c3", "c1", "c6", "c4", "c8"}
	for i, w := range wantLocal {
		if out[i].Content != w {
			t.Fatalf("position %d: got %q, want %q", i, out[i].Content, w)
		}
	}
	for i, d := range docs {
		if out[5+i].Metadata.SourceURL != d.Metadata.SourceURL {
			t.Fatalf("search doc order changed at %d", i)
		}
	}
	for i := 1; i < 5; i++ {
		if out[i].Metadata.SimilarityScore > out[i-1].Metadata.SimilarityScore {
			t.Fatalf("local chunks not sorted by descending similarity")
		}
	}
}

func TestRerankSpeedCapsLocalWhenDocsPresent(t *testing.T) {
	prov := &fakeProvider{
		embedFn: func(text string) ([]float32, error) { return []float32{1, 0}, nil },
	}
	r := NewReranker(&config.Config{}, prov)

	chunks := make([]LocalChunk, 10)
	for i := range chunks {
		chunks[i] = LocalChunk{Text: fmt.Sprintf("c%d", i), Embedding: []float32{1, 0}}
	}
	docs := []RetrievedDocument{scoredDoc("https://example.com/a", 0)}

	out, err := r.Rerank(context.Background(), "q", docs, chunks, ModeSpeed)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 9 {
		t.Fatalf("expected 8 local + 1 search doc, got %d", len(out))
	}
	if out[8].Metadata.SourceURL != "https://example.com/a" {
		t.Fatalf("search doc should follow capped local chunks")
	}
}

func TestRerankBalancedScoresEverything(t *testing.T) {
	prov := &fakeProvider{
		embedFn: func(text string) ([]float32, error) { return []float32{1, 0}, nil },
		embedBatchFn: func(texts []string) ([][]float32, error) {
			vecs := make([][]float32, len(texts))
			for i, text := range texts {
				switch text {
				case "strong":
					vecs[i] = []float32{1, 0}
				case "weak":
					vecs[i] = []float32{1, 5}
				default:
					vecs[i] = []float32{1, 1}
				}
			}
			return vecs, nil
		},
	}
	r := NewReranker(&config.Config{}, prov)

	docs := []RetrievedDocument{
		{Content: "weak", Metadata: DocumentMeta{SourceURL: "https://example.com/w"}},
		{Content: "strong", Metadata: DocumentMeta{SourceURL: "https://example.com/s"}},
	}
	chunks := []LocalChunk{{Text: "middling", Title: "local"}}

	out, err := r.Rerank(context.Background(), "q", docs, chunks, ModeBalanced)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	// weak ~0.196 is filtered; strong 1.0 then middling ~0.707.
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
	if out[0].Metadata.SourceURL != "https://example.com/s" || out[1].Metadata.Title != "local" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestRerankBalancedEmbeddingCountMismatch(t *testing.T) {
	prov := &fakeProvider{
		embedFn:      func(text string) ([]float32, error) { return []float32{1, 0}, nil },
		embedBatchFn: func(texts []string) ([][]float32, error) { return [][]float32{{1, 0}}, nil },
	}
	r := NewReranker(&config.Config{}, prov)

	docs := []RetrievedDocument{scoredDoc("https://example.com/a", 0), scoredDoc("https://example.com/b", 0)}
	if _, err := r.Rerank(context.Background(), "q", docs, nil, ModeBalanced); err == nil {
		t.Fatal("expected error on embedding count mismatch")
	}
}

func TestRerankDimensionMismatchIsHardError(t *testing.T) {
	prov := &fakeProvider{
		embedFn: func(text string) ([]float32, error) { return []float32{1, 0}, nil },
	}
	r := NewReranker(&config.Config{}, prov)

	chunks := []LocalChunk{{Text: "c0", Embedding: []float32{1, 0, 0}}}
	if _, err := r.Rerank(context.Background(), "q", nil, chunks, ModeSpeed); err == nil {
		t.Fatal("expected error on dimension mismatch")
	}
}

func TestRerankQualityFallsBackToBalanced(t *testing.T) {
	r := NewReranker(&config.Config{}, &fakeProvider{})
	out, err := r.Rerank(context.Background(), "q", nil, nil, ModeQuality)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d", len(out))
	}
}

func TestRerankUnknownMode(t *testing.T) {
	r := NewReranker(&config.Config{}, &fakeProvider{})
	if _, err := r.Rerank(context.Background(), "q", nil, nil, Mode("turbo")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRerankIsIdempotent(t *testing.T) {
	prov := &fakeProvider{
		embedFn: func(text string) ([]float32, error) { return []float32{1, 0}, nil },
	}
	r := NewReranker(&config.Config{}, prov)

	chunks := []LocalChunk{
		{Text: "c0", Embedding: []float32{1, 1}},
		{Text: "c1", Embedding: []float32{1, 0}},
		{Text: "c2", Embedding: []float32{1, 1}},
	}
	first, err := r.Rerank(context.Background(), "q", nil, chunks, ModeSpeed)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	second, err := r.Rerank(context.Background(), "q", nil, chunks, ModeSpeed)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rerank not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
