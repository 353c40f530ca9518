package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nkamali/faro/internal/pipeline"
)

const braveDefaultURL = "https://api.search.brave.com/res/v1/web/search"

// Brave is the supplementary web search backend, merged in only when the
// primary engine's results are thin.
type Brave struct {
	apiKey  string
	max     int
	http    *Client
	baseURL string
}

func NewBrave(apiKey string, max int, http *Client) *Brave {
	if max <= 0 {
		max = 10
	}
	return &Brave{apiKey: apiKey, max: max, http: http, baseURL: braveDefaultURL}
}

func (b *Brave) Type() pipeline.SourceType { return pipeline.SourceWeb }

func (b *Brave) Search(ctx context.Context, query string, max int) ([]pipeline.Hit, error) {
	if b.apiKey == "" {
		return nil, nil
	}
	if max <= 0 || max > b.max {
		max = b.max
	}
	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": b.apiKey,
	}
	endpoint := fmt.Sprintf("%s?q=%s&count=%d", b.baseURL, url.QueryEscape(query), max)
	if err := b.http.DoJSON(ctx, "GET", endpoint, headers, nil, &resp); err != nil {
		return nil, err
	}

	var hits []pipeline.Hit
	for _, r := range resp.Web.Results {
		if len(hits) >= max {
			break
		}
		hits = append(hits, pipeline.Hit{
			Title: r.Title, URL: r.URL, Snippet: r.Description,
			SourceType: pipeline.SourceWeb,
		})
	}
	return hits, nil
}
