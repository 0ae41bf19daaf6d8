package session_object

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/counselgraph/counselgraph/session/session_models"
)

// Session holds one matter's local corpus: a memory-only bleve index for
// BM25 plus in-memory vectors for small corpora.
type Session struct {
	id        string
	expiresAt time.Time
	bleve     bleve.Index
	meta      map[string]session_models.DocChunk
	vectors   []session_models.EmbedVec
	mu        sync.RWMutex
}

const rrfK = 60 // reciprocal-rank-fusion constant

func NewSession(id string, ttl time.Duration) (*Session, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        id,
		expiresAt: time.Now().Add(ttl),
		bleve:     index,
		meta:      make(map[string]session_models.DocChunk),
		vectors:   []session_models.EmbedVec{},
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Expire(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Now().Add(ttl)
}

func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Now().After(s.expiresAt)
}

func (s *Session) AddChunk(chunk session_models.DocChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[chunk.DocID] = chunk
	return s.bleve.Index(chunk.DocID, chunk)
}

func (s *Session) Chunks() []session_models.DocChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session_models.DocChunk, 0, len(s.meta))
	for _, c := range s.meta {
		out = append(out, c)
	}
	return out
}

func (s *Session) SetVector(docID string, v []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, session_models.EmbedVec{DocID: docID, Vec: v})
}

func (s *Session) GetVectors() []session_models.EmbedVec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors
}

func (s *Session) GetChunk(docID string) (session_models.DocChunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.meta[docID]
	return c, ok
}

func (s *Session) Bm25Search(q string, k int) ([]session_models.SearchHit, error) {
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := s.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []session_models.SearchHit
	for i, hit := range res.Hits {
		doc := s.meta[hit.ID]
		out = append(out, session_models.SearchHit{
			DocID: hit.ID, URL: doc.URL, Title: doc.Title,
			Snippet: snippet(doc.Text),
			Score:   hit.Score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (s *Session) VectorSearch(q []float32, k int) []session_models.SearchHit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	var scoreds []scored
	for _, v := range s.vectors {
		// Vectors from a different embedding model are not comparable.
		if len(v.Vec) != len(q) {
			continue
		}
		scoreds = append(scoreds, scored{id: v.DocID, score: cosine(q, v.Vec)})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []session_models.SearchHit
	for i, sc := range scoreds {
		doc := s.meta[sc.id]
		out = append(out, session_models.SearchHit{
			DocID: sc.id, URL: doc.URL, Title: doc.Title,
			Snippet: snippet(doc.Text), Score: sc.score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out
}

func (s *Session) FuseRRF(a, b []session_models.SearchHit, k int) []session_models.SearchHit {
	type agg struct {
		item  session_models.SearchHit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []session_models.SearchHit) {
		for _, h := range list {
			x, ok := m[h.DocID]
			if !ok {
				m[h.DocID] = &agg{item: h}
				x = m[h.DocID]
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	add(a)
	add(b)
	items := make([]agg, 0, len(m))
	for _, v := range m {
		items = append(items, *v)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score > items[j].score })
	n := len(items)
	if k < n {
		n = k
	}
	out := make([]session_models.SearchHit, 0, n)
	for i := 0; i < n; i++ {
		h := items[i].item
		h.Score = items[i].score
		h.Rank = i + 1
		out = append(out, h)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
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
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
