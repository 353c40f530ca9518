package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nkamali/faro/internal/pipeline"
)

const semanticScholarDefaultURL = "https://api.semanticscholar.org/graph/v1/paper/search"

// SemanticScholar searches academic papers through the Graph API. An API key
// is optional; without one the public rate limit applies.
type SemanticScholar struct {
	enabled bool
	apiKey  string
	max     int
	http    *Client
	baseURL string
}

func NewSemanticScholar(enabled bool, apiKey string, max int, http *Client) *SemanticScholar {
	if max <= 0 {
		max = 5
	}
	return &SemanticScholar{enabled: enabled, apiKey: apiKey, max: max, http: http, baseURL: semanticScholarDefaultURL}
}

func (s *SemanticScholar) Type() pipeline.SourceType { return pipeline.SourceSemanticScholar }

func (s *SemanticScholar) Search(ctx context.Context, query string, max int) ([]pipeline.Hit, error) {
	if !s.enabled {
		return nil, nil
	}
	if max <= 0 || max > s.max {
		max = s.max
	}
	var resp struct {
		Data []struct {
			Title    string `json:"title"`
			Abstract string `json:"abstract"`
			URL      string `json:"url"`
			Year     int    `json:"year"`
		} `json:"data"`
	}
	var headers map[string]string
	if s.apiKey != "" {
		headers = map[string]string{"x-api-key": s.apiKey}
	}
	endpoint := fmt.Sprintf("%s?query=%s&limit=%d&fields=title,abstract,url,year", s.baseURL, url.QueryEscape(query), max)
	if err := s.http.DoJSON(ctx, "GET", endpoint, headers, nil, &resp); err != nil {
		return nil, err
	}

	var hits []pipeline.Hit
	for _, p := range resp.Data {
		if p.URL == "" {
			continue
		}
		snippet := p.Abstract
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
		var extra map[string]string
		if p.Year > 0 {
			extra = map[string]string{"year": fmt.Sprintf("%d", p.Year)}
		}
		hits = append(hits, pipeline.Hit{
			Title:      p.Title,
			URL:        p.URL,
			Snippet:    snippet,
			SourceType: pipeline.SourceSemanticScholar,
			Extra:      extra,
		})
	}
	return hits, nil
}
