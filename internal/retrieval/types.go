package retrieval

// RetrievedDocument is one candidate context document. Collected fresh
// per retrieval call and never mutated afterwards, only filtered,
// reordered or capped.
type RetrievedDocument struct {
	Content  string       `json:"content"`
	Metadata DocumentMeta `json:"metadata"`
}

type DocumentMeta struct {
	Title           string  `json:"title"`
	SourceURL       string  `json:"source_url"`
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	ChunkIndex      int     `json:"chunk_index,omitempty"`
	PageNumber      int     `json:"page_number,omitempty"`
}

// LocalChunk is a pre-embedded slice of matter file content.
type LocalChunk struct {
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	Title      string    `json:"title"`
	SourceURL  string    `json:"source_url"`
	ChunkIndex int       `json:"chunk_index"`
}

// StreamEventType tags one event of a pipeline run.
type StreamEventType string

const (
	EventProgress StreamEventType = "progress"
	EventSources  StreamEventType = "sources"
	EventResponse StreamEventType = "response"
	EventEnd      StreamEventType = "end"
	EventError    StreamEventType = "error"
)

// StreamEvent is the tagged union published to pipeline consumers.
// Exactly one sources event precedes all response events, and exactly
// one terminal event (end or error) closes the stream.
type StreamEvent struct {
	Type      StreamEventType     `json:"type"`
	Message   string              `json:"message,omitempty"`
	Documents []RetrievedDocument `json:"documents,omitempty"`
	Chunk     string              `json:"chunk,omitempty"`
}

// Mode selects the rerank cost/quality tradeoff.
type Mode string

const (
	ModeSpeed    Mode = "speed"
	ModeBalanced Mode = "balanced"
	ModeQuality  Mode = "quality"
)
