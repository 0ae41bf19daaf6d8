package retrieval

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/provider"
)

// summarizeCommand bypasses relevance scoring entirely; summarization
// wants breadth, not relevance.
const summarizeCommand = "summarize"

// Reranker scores candidate documents and local chunks against the query
// by embedding cosine similarity, under one of three cost/quality modes.
type Reranker struct {
	cfg      *config.Config
	provider provider.Provider
	logger   *log.Logger
}

func NewReranker(cfg *config.Config, prov provider.Provider) *Reranker {
	return &Reranker{
		cfg:      cfg,
		provider: prov,
		logger:   log.New(log.Writer(), "[RERANK] ", log.LstdFlags),
	}
}

func (r *Reranker) maxDocs() int {
	if n := r.cfg.Retrieval.MaxContextDocs; n > 0 {
		return n
	}
	return 15
}

func (r *Reranker) maxLocal() int {
	if n := r.cfg.Retrieval.MaxLocalChunks; n > 0 {
		return n
	}
	return 8
}

func (r *Reranker) threshold() float64 {
	if t := r.cfg.Retrieval.SimilarityThreshold; t > 0 {
		return t
	}
	return 0.3
}

// Rerank filters and orders the candidate set. The returned slice is a
// new ordering over the inputs; inputs are never mutated.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []RetrievedDocument, localChunks []LocalChunk, mode Mode) ([]RetrievedDocument, error) {
	if strings.EqualFold(strings.TrimSpace(query), summarizeCommand) {
		return capDocs(docs, r.maxDocs()), nil
	}

	switch mode {
	case ModeSpeed:
		return r.rerankSpeed(ctx, query, docs, localChunks)
	case ModeBalanced:
		return r.rerankBalanced(ctx, query, docs, localChunks)
	case ModeQuality:
		// No exhaustive scorer yet; balanced is the conforming minimum.
		return r.rerankBalanced(ctx, query, docs, localChunks)
	default:
		return nil, fmt.Errorf("unknown rerank mode: %s", mode)
	}
}

// rerankSpeed embeds the query once and scores only pre-embedded local
// chunks; search documents are passed through unscored.
func (r *Reranker) rerankSpeed(ctx context.Context, query string, docs []RetrievedDocument, localChunks []LocalChunk) ([]RetrievedDocument, error) {
	if len(localChunks) == 0 {
		return capDocs(docs, r.maxDocs()), nil
	}

	queryVec, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	scored, err := scoreChunks(queryVec, localChunks)
	if err != nil {
		return nil, err
	}
	kept := filterAndSort(scored, r.threshold())

	localCap := r.maxDocs()
	if len(docs) > 0 {
		localCap = r.maxLocal()
	}
	if len(kept) > localCap {
		kept = kept[:localCap]
	}

	out := make([]RetrievedDocument, 0, r.maxDocs())
	out = append(out, kept...)
	for _, d := range docs {
		if len(out) >= r.maxDocs() {
			break
		}
		out = append(out, d)
	}
	return out, nil
}

// rerankBalanced embeds the query plus every candidate and scores the
// whole set. Strictly more expensive than speed mode, strictly more
// accurate.
func (r *Reranker) rerankBalanced(ctx context.Context, query string, docs []RetrievedDocument, localChunks []LocalChunk) ([]RetrievedDocument, error) {
	if len(docs) == 0 && len(localChunks) == 0 {
		return []RetrievedDocument{}, nil
	}

	queryVec, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	texts := make([]string, 0, len(docs)+len(localChunks))
	for _, d := range docs {
		texts = append(texts, d.Content)
	}
	for _, c := range localChunks {
		texts = append(texts, c.Text)
	}
	vecs, err := r.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("candidate embedding failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(texts))
	}

	scored := make([]RetrievedDocument, 0, len(texts))
	for i, d := range docs {
		sim, err := cosine(queryVec, vecs[i])
		if err != nil {
			return nil, err
		}
		d.Metadata.SimilarityScore = sim
		scored = append(scored, d)
	}
	for i, c := range localChunks {
		sim, err := cosine(queryVec, vecs[len(docs)+i])
		if err != nil {
			return nil, err
		}
		scored = append(scored, chunkToDocument(c, sim))
	}

	kept := filterAndSort(scored, r.threshold())
	return capDocs(kept, r.maxDocs()), nil
}

func scoreChunks(queryVec []float32, chunks []LocalChunk) ([]RetrievedDocument, error) {
	out := make([]RetrievedDocument, 0, len(chunks))
	for _, c := range chunks {
		sim, err := cosine(queryVec, c.Embedding)
		if err != nil {
			return nil, err
		}
		out = append(out, chunkToDocument(c, sim))
	}
	return out, nil
}

func chunkToDocument(c LocalChunk, sim float64) RetrievedDocument {
	return RetrievedDocument{
		Content: c.Text,
		Metadata: DocumentMeta{
			Title:           c.Title,
			SourceURL:       c.SourceURL,
			SimilarityScore: sim,
			ChunkIndex:      c.ChunkIndex,
		},
	}
}

// filterAndSort keeps documents scoring strictly above the threshold and
// orders them by descending similarity. The sort is stable so equal
// scores keep their received order, making reranking deterministic.
func filterAndSort(docs []RetrievedDocument, threshold float64) []RetrievedDocument {
	kept := make([]RetrievedDocument, 0, len(docs))
	for _, d := range docs {
		if d.Metadata.SimilarityScore > threshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Metadata.SimilarityScore > kept[j].Metadata.SimilarityScore
	})
	return kept
}

func capDocs(docs []RetrievedDocument, n int) []RetrievedDocument {
	if len(docs) <= n {
		return docs
	}
	return docs[:n]
}

// cosine requires equal-length vectors. A dimensionality mismatch is a
// hard error, never padded or truncated.
func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
