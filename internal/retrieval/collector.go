package retrieval

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/provider"
	"github.com/counselgraph/counselgraph/tools/web_fetch"
	"github.com/counselgraph/counselgraph/tools/web_search"
	search_models "github.com/counselgraph/counselgraph/tools/web_search/models"
)

// Collector gathers candidate documents for a retrieval directive:
// dereferencing explicit links, issuing one search, or one search per
// sub-query in multi-query mode.
type Collector struct {
	cfg       *config.Config
	rephraser *Rephraser
	searcher  web_search.Searcher
	fetcher   web_fetch.WebFetcher
	logger    *log.Logger
}

// Collected is the rephrase-and-collect result.
type Collected struct {
	EffectiveQuery string
	Documents      []RetrievedDocument
}

func NewCollector(cfg *config.Config, rephraser *Rephraser, searcher web_search.Searcher, fetcher web_fetch.WebFetcher) *Collector {
	return &Collector{
		cfg:       cfg,
		rephraser: rephraser,
		searcher:  searcher,
		fetcher:   fetcher,
		logger:    log.New(log.Writer(), "[COLLECT] ", log.LstdFlags),
	}
}

// RephraseAndCollect runs the rephraser and gathers documents according
// to its directive.
func (c *Collector) RephraseAndCollect(ctx context.Context, history []provider.Message, query string) (Collected, error) {
	directive, err := c.rephraser.Rephrase(ctx, history, query)
	if err != nil {
		return Collected{}, err
	}
	return c.Collect(ctx, directive)
}

// Collect gathers documents for an already-interpreted directive.
func (c *Collector) Collect(ctx context.Context, directive Directive) (Collected, error) {
	switch {
	case directive.NotNeeded:
		// Generation proceeds without retrieved context.
		return Collected{EffectiveQuery: "", Documents: []RetrievedDocument{}}, nil

	case len(directive.Links) > 0:
		docs := c.fetchLinks(ctx, directive.Links)
		return Collected{EffectiveQuery: directive.Query, Documents: docs}, nil

	default:
		q := strings.TrimSpace(directive.Query)
		if q == "" {
			// Never issue an unscoped search.
			return Collected{EffectiveQuery: "", Documents: []RetrievedDocument{}}, nil
		}
		var docs []RetrievedDocument
		if c.cfg.Retrieval.MultiQuery {
			docs = c.multiSearch(ctx, SubQueries(q))
		} else {
			docs = c.search(ctx, q)
		}
		return Collected{EffectiveQuery: q, Documents: docs}, nil
	}
}

func (c *Collector) fetchLinks(ctx context.Context, links []string) []RetrievedDocument {
	var docs []RetrievedDocument
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		result, err := c.fetcher.Exec(ctx, link)
		if err != nil {
			c.logger.Printf("fetch %s failed: %v", link, err)
			continue
		}
		if strings.TrimSpace(result.Text) == "" {
			c.logger.Printf("fetch %s returned no readable text (status %d)", link, result.Status)
			continue
		}
		docs = append(docs, RetrievedDocument{
			Content: result.Text,
			Metadata: DocumentMeta{
				Title:     result.Title,
				SourceURL: result.URL,
			},
		})
	}
	return docs
}

func (c *Collector) search(ctx context.Context, q string) []RetrievedDocument {
	resp, err := c.searcher.Search(ctx, q, search_models.Options{MaxResults: c.cfg.Search.MaxResults})
	if err != nil {
		c.logger.Printf("search %q failed: %v", q, err)
		return nil
	}
	return toDocuments(resp.Results)
}

// multiSearch issues one search per sub-query concurrently, then merges
// results deterministically: sub-query order, deduplicated by URL with
// the first occurrence winning. A failed sub-query is logged and
// skipped; it never aborts the others.
func (c *Collector) multiSearch(ctx context.Context, queries []string) []RetrievedDocument {
	results := make([][]search_models.Result, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			resp, err := c.searcher.Search(ctx, q, search_models.Options{MaxResults: c.cfg.Search.MaxResults})
			if err != nil {
				c.logger.Printf("sub-query %q failed: %v", q, err)
				return
			}
			results[i] = resp.Results
		}(i, q)
	}
	wg.Wait()

	seen := make(map[string]bool)
	var docs []RetrievedDocument
	for _, batch := range results {
		for _, r := range batch {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			docs = append(docs, RetrievedDocument{
				Content: r.Content,
				Metadata: DocumentMeta{
					Title:     r.Title,
					SourceURL: r.URL,
				},
			})
		}
	}
	return docs
}

func toDocuments(results []search_models.Result) []RetrievedDocument {
	seen := make(map[string]bool)
	var docs []RetrievedDocument
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		docs = append(docs, RetrievedDocument{
			Content: r.Content,
			Metadata: DocumentMeta{
				Title:     r.Title,
				SourceURL: r.URL,
			},
		})
	}
	return docs
}
