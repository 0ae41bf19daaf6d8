package session_models

import "time"

// DocChunk is one indexed slice of a matter document.
type DocChunk struct {
	DocID       string
	MatterID    string
	URL         string
	Title       string
	Text        string
	ContentHash string
	IngestedAt  time.Time
	ChunkIndex  int
}

type DocInput struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type SearchHit struct {
	DocID   string  `json:"doc_id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

type EmbedVec struct {
	DocID string
	Vec   []float32
}
