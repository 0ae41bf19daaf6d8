package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/counselgraph/counselgraph/tools/web_search/models"
)

// asString renders loosely-typed JSON values; serper mixes strings and
// numbers across response fields.
func asString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

type Search struct {
	ApiKey string
}

func (s Search) Search(ctx context.Context, q string, opts models.Options) (models.Response, error) {
	// https://serper.dev/ docs
	k := opts.MaxResults
	if k <= 0 {
		k = 10
	}
	payload := map[string]any{"q": q, "num": k}
	if opts.Language != "" {
		payload["hl"] = opts.Language
	}
	if opts.Page > 1 {
		payload["page"] = opts.Page
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", "https://google.serper.dev/search", strings.NewReader(string(body)))
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Response{}, fmt.Errorf("serper status %d", resp.StatusCode)
	}
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, err
	}

	var out models.Response
	if items, ok := raw["organic"].([]any); ok {
		for i, it := range items {
			if i >= k {
				break
			}
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			out.Results = append(out.Results, models.Result{
				Title: asString(m["title"]), URL: asString(m["link"]), Content: asString(m["snippet"]),
			})
		}
	}
	if related, ok := raw["relatedSearches"].([]any); ok {
		for _, it := range related {
			if m, ok := it.(map[string]any); ok {
				if q := asString(m["query"]); q != "" {
					out.Suggestions = append(out.Suggestions, q)
				}
			}
		}
	}
	return out, nil
}
