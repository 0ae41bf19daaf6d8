package session

import (
	"context"
	"time"

	"github.com/counselgraph/counselgraph/session/session_models"
)

// Store hands out matter-scoped sessions. Backends decide where chunk
// metadata and vectors survive between processes.
type Store interface {
	EnsureSession(ctx context.Context, id string, ttl time.Duration) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
}

// Session is one matter's local index: BM25 over chunk text plus
// cosine search over chunk vectors, fused with reciprocal-rank fusion.
type Session interface {
	ID() string
	Expire(ttl time.Duration)
	AddChunk(chunk session_models.DocChunk) error
	Chunks() []session_models.DocChunk
	SetVector(docID string, v []float32)
	GetVectors() []session_models.EmbedVec
	GetChunk(docID string) (session_models.DocChunk, bool)
	Bm25Search(q string, k int) ([]session_models.SearchHit, error)
	VectorSearch(q []float32, k int) []session_models.SearchHit
	FuseRRF(a, b []session_models.SearchHit, k int) []session_models.SearchHit
}
