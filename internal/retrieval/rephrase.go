package retrieval

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/provider"
)

// notNeededSentinel is the model's signal that the question can be
// answered from conversation alone, without retrieval.
const notNeededSentinel = "not_needed"

// Directive is the interpreted rephraser output. Exactly one of the
// three cases holds: NotNeeded, explicit Links, or a rewritten Query.
type Directive struct {
	NotNeeded bool
	Links     []string
	Query     string
}

// Rephraser turns (history, new query) into a retrieval directive.
type Rephraser struct {
	cfg      *config.Config
	provider provider.Provider
	logger   *log.Logger
}

func NewRephraser(cfg *config.Config, prov provider.Provider) *Rephraser {
	return &Rephraser{
		cfg:      cfg,
		provider: prov,
		logger:   log.New(log.Writer(), "[REPHRASE] ", log.LstdFlags),
	}
}

func (r *Rephraser) Rephrase(ctx context.Context, history []provider.Message, query string) (Directive, error) {
	prompt := fmt.Sprintf(`Rewrite the user's latest question as a standalone web search query, using the conversation for context.
Rules:
- If the question can be answered from the conversation alone, respond with exactly: %s
- If the user pasted links they want read, repeat those links one per line.
- In multi-query mode you may return several search queries, one per line.
- Otherwise return only the rewritten query text, nothing else.

Latest question: %s`, notNeededSentinel, query)

	model := r.cfg.LLM.Routing.Rephrase
	if model == "" {
		model = r.cfg.LLM.Routing.Fallback
	}
	response, err := r.provider.GenerateWithHistory(ctx, history, prompt, model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  300,
	})
	if err != nil {
		return Directive{}, fmt.Errorf("rephrase failed: %w", err)
	}
	return InterpretRephrase(response), nil
}

// InterpretRephrase applies the three mutually exclusive cases, checked
// in order: sentinel, explicit links, rewritten query.
func InterpretRephrase(raw string) Directive {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, notNeededSentinel) || strings.EqualFold(trimmed, "not needed") {
		return Directive{NotNeeded: true}
	}

	links, rest := splitLinks(trimmed)
	if len(links) > 0 {
		return Directive{Links: links, Query: strings.TrimSpace(rest)}
	}

	return Directive{Query: cleanQuery(trimmed)}
}

func splitLinks(s string) (links []string, rest string) {
	var restParts []string
	for _, field := range strings.Fields(s) {
		if isHTTPURL(field) {
			links = append(links, field)
		} else {
			restParts = append(restParts, field)
		}
	}
	if len(links) == 0 {
		return nil, s
	}
	return links, strings.Join(restParts, " ")
}

func isHTTPURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}

// cleanQuery strips residual tag markers a model sometimes wraps around
// its answer.
func cleanQuery(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"query:", "search:", "rewritten:"} {
		if strings.HasPrefix(strings.ToLower(s), marker) {
			s = strings.TrimSpace(s[len(marker):])
		}
	}
	return strings.Trim(s, "\"`")
}

// SubQueries splits a multi-query rephrase output into independent
// sub-queries, discarding label echoes and empty lines.
func SubQueries(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		q := cleanQuery(line)
		if q == "" {
			continue
		}
		lower := strings.ToLower(q)
		if lower == "queries" || lower == "sub-queries" || lower == "search queries" {
			continue
		}
		out = append(out, q)
	}
	return out
}
