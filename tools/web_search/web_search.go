package web_search

import (
	"context"
	"log"

	"github.com/counselgraph/counselgraph/tools/web_search/brave"
	"github.com/counselgraph/counselgraph/tools/web_search/models"
	"github.com/counselgraph/counselgraph/tools/web_search/serper"
)

type Searcher interface {
	Search(ctx context.Context, q string, opts models.Options) (models.Response, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewSearcher(provider Provider, apiKey string) (Searcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// Chain tries each searcher in order and returns the first non-empty
// response. Provider-level failures are logged and produce an empty
// response rather than an error, so retrieval degrades instead of aborting.
type Chain struct {
	Searchers []Searcher
	Logger    *log.Logger
}

func (c Chain) Search(ctx context.Context, q string, opts models.Options) (models.Response, error) {
	for _, s := range c.Searchers {
		resp, err := s.Search(ctx, q, opts)
		if err != nil {
			if ctx.Err() != nil {
				return models.Response{}, ctx.Err()
			}
			if c.Logger != nil {
				c.Logger.Printf("search provider failed, trying next: %v", err)
			}
			continue
		}
		if len(resp.Results) > 0 {
			return resp, nil
		}
	}
	return models.Response{}, nil
}
