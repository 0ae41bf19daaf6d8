package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/counselgraph/counselgraph/provider"
	"github.com/counselgraph/counselgraph/session"
	"github.com/counselgraph/counselgraph/session/session_models"
)

const (
	chunkApprox  = 1000
	chunkOverlap = 200
	defaultTTL   = 48 * time.Hour
)

// Ingest chunks matter documents into a session index and embeds each
// chunk so later retrieval can fuse BM25 and vector hits.
type Ingest struct {
	Store    session.Store
	Provider provider.Provider
	EmbedDim int
	logger   *log.Logger
}

type Response struct {
	SessionID string `json:"session_id"`
	Chunks    int    `json:"chunks"`
	IndexedBM int    `json:"indexed_bm25"`
	Embedded  int    `json:"embedded"`
}

func NewIngest(store session.Store, prov provider.Provider, embedDim int, logger *log.Logger) *Ingest {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Ingest{Store: store, Provider: prov, EmbedDim: embedDim, logger: logger}
}

func (i *Ingest) Run(ctx context.Context, matterID string, docs []session_models.DocInput, ttlHours int) (Response, error) {
	if len(docs) == 0 {
		return Response{}, errors.New("no documents provided")
	}
	ttl := defaultTTL
	if ttlHours > 0 {
		ttl = time.Duration(ttlHours) * time.Hour
	}
	sess, err := i.Store.EnsureSession(ctx, matterID, ttl)
	if err != nil {
		return Response{}, err
	}

	var chunks []session_models.DocChunk
	now := time.Now()
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		hash := sha1Hex(doc.Text)
		for idx, part := range makeChunks(doc.Text, chunkApprox, chunkOverlap) {
			chunk := session_models.DocChunk{
				DocID:       fmt.Sprintf("%s#%03d", hash, idx),
				MatterID:    sess.ID(),
				URL:         doc.URL,
				Title:       doc.Title,
				Text:        part,
				ContentHash: hash,
				IngestedAt:  now,
				ChunkIndex:  idx,
			}
			if err := sess.AddChunk(chunk); err != nil {
				return Response{}, fmt.Errorf("failed to add chunk: %w", err)
			}
			chunks = append(chunks, chunk)
		}
	}

	embedded := 0
	if i.Provider != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for n, c := range chunks {
			texts[n] = c.Text
		}
		vecs, err := i.Provider.EmbedBatch(ctx, texts)
		if err != nil {
			// BM25 still works without vectors, so log and continue.
			i.logger.Printf("embedding failed for session %s: %v", sess.ID(), err)
		} else {
			for n, v := range vecs {
				if i.EmbedDim > 0 && len(v) != i.EmbedDim {
					return Response{}, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(v), i.EmbedDim)
				}
				sess.SetVector(chunks[n].DocID, v)
				embedded++
			}
		}
	}

	return Response{
		SessionID: sess.ID(),
		Chunks:    len(chunks),
		IndexedBM: len(chunks),
		Embedded:  embedded,
	}, nil
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func makeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}
