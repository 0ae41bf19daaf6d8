package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"

	"github.com/counselgraph/counselgraph/tools/web_search/models"
)

type Search struct {
	ApiKey string
}

func (s Search) Search(ctx context.Context, q string, opts models.Options) (models.Response, error) {
	// https://api.search.brave.com/app/documentation/web-search
	k := opts.MaxResults
	if k <= 0 {
		k = 10
	}
	url := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", neturl.QueryEscape(q), k)
	if opts.Language != "" {
		url += "&search_lang=" + opts.Language
	}
	if opts.Page > 1 {
		url += fmt.Sprintf("&offset=%d", (opts.Page-1)*k)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return models.Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Response{}, fmt.Errorf("brave status %d", resp.StatusCode)
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
				Thumb   struct {
					Src string `json:"src"`
				} `json:"thumbnail"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Response{}, err
	}
	var out models.Response
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out.Results = append(out.Results, models.Result{Title: r.Title, URL: r.URL, Content: r.Snippet, ImageRef: r.Thumb.Src})
	}
	return out, nil
}
