package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/internal/telemetry"
	"github.com/counselgraph/counselgraph/provider"
	"github.com/counselgraph/counselgraph/session"
)

// prefilterLimit bounds how many local chunks reach the reranker when a
// matter has a large corpus; hybrid BM25+vector fusion picks them.
const prefilterLimit = 50

// StreamOptions configures one pipeline run.
type StreamOptions struct {
	MatterID string
	Mode     Mode
}

// Pipeline runs rephrase+collect, rerank and generation for one query,
// publishing ordered StreamEvents to the caller.
type Pipeline struct {
	cfg       *config.Config
	provider  provider.Provider
	collector *Collector
	reranker  *Reranker
	sessions  session.Store
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewPipeline(cfg *config.Config, prov provider.Provider, collector *Collector, reranker *Reranker, sessions session.Store, tel *telemetry.Telemetry) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		provider:  prov,
		collector: collector,
		reranker:  reranker,
		sessions:  sessions,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// StreamAnswer runs the pipeline asynchronously. The returned channel
// carries exactly one sources event before any response chunk and is
// closed after exactly one terminal event (end or error). An error event
// is never followed by end.
func (p *Pipeline) StreamAnswer(ctx context.Context, query string, history []provider.Message, opts StreamOptions) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		start := time.Now()

		emit := func(ev StreamEvent) bool {
			if p.telemetry != nil {
				p.telemetry.RecordStreamEvent(string(ev.Type))
			}
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			p.logger.Printf("pipeline failed: %v", err)
			if p.telemetry != nil {
				p.telemetry.RecordRequest("error", time.Since(start))
			}
			emit(StreamEvent{Type: EventError, Message: err.Error()})
		}

		if !emit(StreamEvent{Type: EventProgress, Message: "rephrasing query"}) {
			return
		}

		collected, err := p.collector.RephraseAndCollect(ctx, history, query)
		if err != nil {
			fail(err)
			return
		}

		mode := opts.Mode
		if mode == "" {
			mode = Mode(p.cfg.Retrieval.Mode)
		}

		var docs []RetrievedDocument
		effective := collected.EffectiveQuery
		if effective == "" && len(collected.Documents) == 0 {
			// Retrieval not needed; answer from conversation alone.
			docs = []RetrievedDocument{}
		} else {
			if !emit(StreamEvent{Type: EventProgress, Message: "ranking sources"}) {
				return
			}
			chunks, err := p.localChunks(ctx, opts.MatterID, effective)
			if err != nil {
				fail(err)
				return
			}
			rerankQuery := effective
			if rerankQuery == "" {
				rerankQuery = query
			}
			docs, err = p.reranker.Rerank(ctx, rerankQuery, collected.Documents, chunks, mode)
			if err != nil {
				fail(err)
				return
			}
		}
		if p.telemetry != nil {
			p.telemetry.RecordRetrievedDocs(len(docs))
		}

		if !emit(StreamEvent{Type: EventSources, Documents: docs}) {
			return
		}

		prompt := buildAnswerPrompt(query, docs)
		model := p.cfg.LLM.Routing.Generation
		if model == "" {
			model = p.cfg.LLM.Routing.Fallback
		}
		err = p.provider.GenerateStream(ctx, history, prompt, model, map[string]interface{}{
			"temperature": 0.4,
		}, func(chunk string) error {
			if !emit(StreamEvent{Type: EventResponse, Chunk: chunk}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			fail(fmt.Errorf("generation failed: %w", err))
			return
		}

		if p.telemetry != nil {
			p.telemetry.RecordRequest("ok", time.Since(start))
		}
		emit(StreamEvent{Type: EventEnd})
	}()
	return events
}

// localChunks loads the matter's pre-embedded chunks. Large corpora are
// prefiltered with BM25+vector reciprocal-rank fusion so the reranker
// only sees plausible candidates.
func (p *Pipeline) localChunks(ctx context.Context, matterID, query string) ([]LocalChunk, error) {
	if p.sessions == nil || matterID == "" {
		return nil, nil
	}
	sess, err := p.sessions.GetSession(ctx, matterID)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if sess == nil {
		return nil, nil
	}

	vectors := make(map[string][]float32)
	for _, v := range sess.GetVectors() {
		vectors[v.DocID] = v.Vec
	}

	all := sess.Chunks()
	if len(all) > prefilterLimit && query != "" {
		bm, err := sess.Bm25Search(query, prefilterLimit)
		if err != nil {
			p.logger.Printf("bm25 prefilter failed: %v", err)
			bm = nil
		}
		queryVec, err := p.provider.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query embedding failed: %w", err)
		}
		vs := sess.VectorSearch(queryVec, prefilterLimit)
		fused := sess.FuseRRF(bm, vs, prefilterLimit)

		var out []LocalChunk
		for _, hit := range fused {
			chunk, ok := sess.GetChunk(hit.DocID)
			if !ok || len(vectors[chunk.DocID]) == 0 {
				continue
			}
			out = append(out, LocalChunk{
				Text:       chunk.Text,
				Embedding:  vectors[chunk.DocID],
				Title:      chunk.Title,
				SourceURL:  chunk.URL,
				ChunkIndex: chunk.ChunkIndex,
			})
		}
		return out, nil
	}

	var out []LocalChunk
	for _, chunk := range all {
		if len(vectors[chunk.DocID]) == 0 {
			continue
		}
		out = append(out, LocalChunk{
			Text:       chunk.Text,
			Embedding:  vectors[chunk.DocID],
			Title:      chunk.Title,
			SourceURL:  chunk.URL,
			ChunkIndex: chunk.ChunkIndex,
		})
	}
	return out, nil
}

func buildAnswerPrompt(query string, docs []RetrievedDocument) string {
	var b strings.Builder
	b.WriteString("Answer the question using the numbered sources below. Cite sources as [n]. If the sources do not cover the question, say so.\n\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, d.Metadata.Title, d.Metadata.SourceURL, truncate(d.Content, 2000))
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
