package sources

import (
	"context"

	"github.com/nkamali/faro/internal/pipeline"
)

const serperDefaultURL = "https://google.serper.dev/search"

// Serper is the primary web/news search backend (serper.dev).
type Serper struct {
	apiKey  string
	max     int
	http    *Client
	baseURL string
}

func NewSerper(apiKey string, max int, http *Client) *Serper {
	if max <= 0 {
		max = 10
	}
	return &Serper{apiKey: apiKey, max: max, http: http, baseURL: serperDefaultURL}
}

func (s *Serper) Type() pipeline.SourceType { return pipeline.SourceWeb }

func (s *Serper) Search(ctx context.Context, query string, max int) ([]pipeline.Hit, error) {
	if s.apiKey == "" {
		return nil, nil
	}
	if max <= 0 || max > s.max {
		max = s.max
	}
	var resp struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
		News []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"news"`
	}
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body := map[string]interface{}{"q": query, "num": max}
	if err := s.http.DoJSON(ctx, "POST", s.baseURL, headers, body, &resp); err != nil {
		return nil, err
	}

	var hits []pipeline.Hit
	for _, r := range resp.Organic {
		if len(hits) >= max {
			break
		}
		hits = append(hits, pipeline.Hit{
			Title: r.Title, URL: r.Link, Snippet: r.Snippet,
			SourceType: pipeline.SourceWeb,
			Extra:      dateExtra(r.Date),
		})
	}
	for _, r := range resp.News {
		if len(hits) >= max {
			break
		}
		hits = append(hits, pipeline.Hit{
			Title: r.Title, URL: r.Link, Snippet: r.Snippet,
			SourceType: pipeline.SourceNews,
			Extra:      dateExtra(r.Date),
		})
	}
	return hits, nil
}

func dateExtra(date string) map[string]string {
	if date == "" {
		return nil
	}
	return map[string]string{"date": date}
}
