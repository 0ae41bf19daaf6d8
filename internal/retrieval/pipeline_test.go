package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/provider"
	search_models "github.com/counselgraph/counselgraph/tools/web_search/models"
)

func collectEvents(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func checkStreamInvariants(t *testing.T, events []StreamEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events published")
	}

	sources := 0
	sourcesIdx := -1
	terminals := 0
	for i, ev := range events {
		switch ev.Type {
		case EventSources:
			sources++
			sourcesIdx = i
		case EventResponse:
			if sourcesIdx == -1 {
				t.Fatalf("response event at %d before any sources event", i)
			}
		case EventEnd, EventError:
			terminals++
			if i != len(events)-1 {
				t.Fatalf("terminal event %s at %d is not last", ev.Type, i)
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
	if sources > 1 {
		t.Fatalf("expected at most one sources event, got %d", sources)
	}
	if events[len(events)-1].Type == EventEnd && sources != 1 {
		t.Fatal("successful stream must carry exactly one sources event")
	}
}

func newTestPipeline(prov *fakeProvider, searcher fakeSearcher) *Pipeline {
	cfg := &config.Config{Search: config.SearchConfig{MaxResults: 10}}
	rephraser := NewRephraser(cfg, prov)
	collector := NewCollector(cfg, rephraser, searcher, nil)
	reranker := NewReranker(cfg, prov)
	return NewPipeline(cfg, prov, collector, reranker, nil, nil)
}

func TestStreamAnswerEventOrdering(t *testing.T) {
	prov := &fakeProvider{
		historyFn: func(history []provider.Message, prompt string) (string, error) {
			return "indemnification caps case law", nil
		},
		streamFn: func(onChunk func(string) error) error {
			if err := onChunk("The cases "); err != nil {
				return err
			}
			return onChunk("hold that...")
		},
	}
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		return search_models.Response{Results: []search_models.Result{
			{Title: "Case A", URL: "https://example.com/a", Content: "holding A"},
			{Title: "Case B", URL: "https://example.com/b", Content: "holding B"},
		}}, nil
	}}

	p := newTestPipeline(prov, searcher)
	events := collectEvents(t, p.StreamAnswer(context.Background(), "what do courts say about indemnification caps?", nil, StreamOptions{Mode: ModeSpeed}))

	checkStreamInvariants(t, events)
	if events[len(events)-1].Type != EventEnd {
		t.Fatalf("expected end, got %s", events[len(events)-1].Type)
	}

	var gotSources []StreamEvent
	responses := 0
	for _, ev := range events {
		switch ev.Type {
		case EventSources:
			gotSources = append(gotSources, ev)
		case EventResponse:
			responses++
		}
	}
	if len(gotSources) != 1 || len(gotSources[0].Documents) != 2 {
		t.Fatalf("expected one sources event with 2 documents, got %+v", gotSources)
	}
	if responses != 2 {
		t.Fatalf("expected 2 response chunks, got %d", responses)
	}
}

func TestStreamAnswerRephraseFailure(t *testing.T) {
	prov := &fakeProvider{
		historyFn: func(history []provider.Message, prompt string) (string, error) {
			return "", fmt.Errorf("model unavailable")
		},
	}
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		t.Errorf("unexpected search for %q", q)
		return search_models.Response{}, nil
	}}

	p := newTestPipeline(prov, searcher)
	events := collectEvents(t, p.StreamAnswer(context.Background(), "q", nil, StreamOptions{Mode: ModeSpeed}))

	checkStreamInvariants(t, events)
	last := events[len(events)-1]
	if last.Type != EventError || last.Message == "" {
		t.Fatalf("expected error terminal with a message, got %+v", last)
	}
	for _, ev := range events {
		if ev.Type == EventEnd {
			t.Fatal("end must never follow an error")
		}
	}
}

func TestStreamAnswerGenerationFailure(t *testing.T) {
	prov := &fakeProvider{
		historyFn: func(history []provider.Message, prompt string) (string, error) {
			return "officer exculpation", nil
		},
		streamFn: func(onChunk func(string) error) error {
			if err := onChunk("partial "); err != nil {
				return err
			}
			return fmt.Errorf("stream cut off")
		},
	}
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		return search_models.Response{Results: []search_models.Result{
			{Title: "Doc", URL: "https://example.com/d", Content: "text"},
		}}, nil
	}}

	p := newTestPipeline(prov, searcher)
	events := collectEvents(t, p.StreamAnswer(context.Background(), "q", nil, StreamOptions{Mode: ModeSpeed}))

	checkStreamInvariants(t, events)
	if events[len(events)-1].Type != EventError {
		t.Fatalf("expected error terminal, got %s", events[len(events)-1].Type)
	}
}

func TestStreamAnswerRetrievalNotNeeded(t *testing.T) {
	prov := &fakeProvider{
		historyFn: func(history []provider.Message, prompt string) (string, error) {
			return "not_needed", nil
		},
		streamFn: func(onChunk func(string) error) error {
			return onChunk("As discussed above...")
		},
	}
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		t.Errorf("unexpected search for %q", q)
		return search_models.Response{}, nil
	}}

	p := newTestPipeline(prov, searcher)
	events := collectEvents(t, p.StreamAnswer(context.Background(), "can you restate that?", nil, StreamOptions{Mode: ModeSpeed}))

	checkStreamInvariants(t, events)
	if events[len(events)-1].Type != EventEnd {
		t.Fatalf("expected end, got %s", events[len(events)-1].Type)
	}
	for _, ev := range events {
		if ev.Type == EventSources && len(ev.Documents) != 0 {
			t.Fatalf("expected empty sources, got %d documents", len(ev.Documents))
		}
	}
}

func TestBuildAnswerPromptNumbersSources(t *testing.T) {
	docs := []RetrievedDocument{
		{Content: "first body", Metadata: DocumentMeta{Title: "One", SourceURL: "https://example.com/1"}},
		{Content: "second body", Metadata: DocumentMeta{Title: "Two", SourceURL: "https://example.com/2"}},
	}
	prompt := buildAnswerPrompt("what happened?", docs)
	for _, want := range []string{"[1] One (https://example.com/1)", "[2] Two (https://example.com/2)", "Question: what happened?"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
