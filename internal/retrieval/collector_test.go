package retrieval

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/counselgraph/counselgraph/config"
	fetch_models "github.com/counselgraph/counselgraph/tools/web_fetch/models"
	search_models "github.com/counselgraph/counselgraph/tools/web_search/models"
)

func multiQueryConfig() *config.Config {
	return &config.Config{
		Retrieval: config.RetrievalConfig{MultiQuery: true},
		Search:    config.SearchConfig{MaxResults: 10},
	}
}

func TestCollectNotNeeded(t *testing.T) {
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		t.Errorf("unexpected search for %q", q)
		return search_models.Response{}, nil
	}}
	c := NewCollector(multiQueryConfig(), nil, searcher, nil)

	got, err := c.Collect(context.Background(), Directive{NotNeeded: true})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.EffectiveQuery != "" {
		t.Fatalf("expected empty effective query, got %q", got.EffectiveQuery)
	}
	if got.Documents == nil || len(got.Documents) != 0 {
		t.Fatalf("expected empty non-nil documents, got %v", got.Documents)
	}
}

func TestCollectEmptyQuerySkipsSearch(t *testing.T) {
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		t.Errorf("unexpected search for %q", q)
		return search_models.Response{}, nil
	}}
	c := NewCollector(multiQueryConfig(), nil, searcher, nil)

	got, err := c.Collect(context.Background(), Directive{Query: "   "})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got.Documents) != 0 {
		t.Fatalf("expected no documents, got %d", len(got.Documents))
	}
}

func TestMultiSearchMergeIsDeterministic(t *testing.T) {
	responses := map[string]search_models.Response{
		"alpha": {Results: []search_models.Result{
			{Title: "A1", URL: "https://example.com/1", Content: "one"},
			{Title: "A2", URL: "https://example.com/2", Content: "two"},
		}},
		"gamma": {Results: []search_models.Result{
			{Title: "G2", URL: "https://example.com/2", Content: "two again"},
			{Title: "G3", URL: "https://example.com/3", Content: "three"},
			{Title: "", URL: "", Content: "no url"},
		}},
	}
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		if q == "beta" {
			return search_models.Response{}, fmt.Errorf("provider timeout")
		}
		return responses[q], nil
	}}
	c := NewCollector(multiQueryConfig(), nil, searcher, nil)

	got, err := c.Collect(context.Background(), Directive{Query: "alpha\nbeta\ngamma"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var urls []string
	for _, d := range got.Documents {
		urls = append(urls, d.Metadata.SourceURL)
	}
	// Sub-query order, first occurrence of a URL wins, failed sub-query
	// skipped without aborting the rest.
	want := []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}
	if !reflect.DeepEqual(urls, want) {
		t.Fatalf("got %v, want %v", urls, want)
	}
	if got.Documents[1].Metadata.Title != "A2" {
		t.Fatalf("dedupe should keep the first occurrence, got %q", got.Documents[1].Metadata.Title)
	}
}

func TestCollectLinksSkipsUnreadable(t *testing.T) {
	fetcher := fakeFetcher{fn: func(url string) (fetch_models.Result, error) {
		switch url {
		case "https://example.com/ok":
			return fetch_models.Result{URL: url, Title: "OK", Text: "readable body", Status: 200}, nil
		case "https://example.com/empty":
			return fetch_models.Result{URL: url, Status: 404}, nil
		default:
			return fetch_models.Result{}, fmt.Errorf("connection refused")
		}
	}}
	c := NewCollector(multiQueryConfig(), nil, nil, fetcher)

	got, err := c.Collect(context.Background(), Directive{
		Links: []string{"https://example.com/ok", "https://example.com/empty", "https://example.com/down"},
		Query: "background reading",
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.EffectiveQuery != "background reading" {
		t.Fatalf("effective query = %q", got.EffectiveQuery)
	}
	if len(got.Documents) != 1 || got.Documents[0].Metadata.Title != "OK" {
		t.Fatalf("expected only the readable link, got %+v", got.Documents)
	}
}

func TestSingleSearchDedupesByURL(t *testing.T) {
	searcher := fakeSearcher{fn: func(q string) (search_models.Response, error) {
		return search_models.Response{Results: []search_models.Result{
			{Title: "First", URL: "https://example.com/x", Content: "a"},
			{Title: "Dup", URL: "https://example.com/x", Content: "b"},
			{Title: "Second", URL: "https://example.com/y", Content: "c"},
		}}, nil
	}}
	cfg := multiQueryConfig()
	cfg.Retrieval.MultiQuery = false
	c := NewCollector(cfg, nil, searcher, nil)

	got, err := c.Collect(context.Background(), Directive{Query: "trade secrets"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got.Documents) != 2 {
		t.Fatalf("expected 2 deduped documents, got %d", len(got.Documents))
	}
	if got.Documents[0].Metadata.Title != "First" {
		t.Fatalf("first occurrence should win, got %q", got.Documents[0].Metadata.Title)
	}
}
