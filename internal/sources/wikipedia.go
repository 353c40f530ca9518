package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/nkamali/faro/internal/pipeline"
)

const wikipediaDefaultURL = "https://en.wikipedia.org/w/api.php"

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// Wikipedia queries the MediaWiki search API. No credentials needed; a
// disabled flag stands in for the missing-key case.
type Wikipedia struct {
	enabled bool
	max     int
	http    *Client
	baseURL string
}

func NewWikipedia(enabled bool, max int, http *Client) *Wikipedia {
	if max <= 0 {
		max = 5
	}
	return &Wikipedia{enabled: enabled, max: max, http: http, baseURL: wikipediaDefaultURL}
}

func (w *Wikipedia) Type() pipeline.SourceType { return pipeline.SourceWiki }

func (w *Wikipedia) Search(ctx context.Context, query string, max int) ([]pipeline.Hit, error) {
	if !w.enabled {
		return nil, nil
	}
	if max <= 0 || max > w.max {
		max = w.max
	}
	var resp struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
				PageID  int    `json:"pageid"`
			} `json:"search"`
		} `json:"query"`
	}
	endpoint := fmt.Sprintf("%s?action=query&list=search&format=json&srlimit=%d&srsearch=%s",
		w.baseURL, max, url.QueryEscape(query))
	if err := w.http.DoJSON(ctx, "GET", endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}

	var hits []pipeline.Hit
	for _, r := range resp.Query.Search {
		hits = append(hits, pipeline.Hit{
			Title:      r.Title,
			URL:        "https://en.wikipedia.org/wiki/" + url.PathEscape(r.Title),
			Snippet:    htmlTagRe.ReplaceAllString(r.Snippet, ""),
			SourceType: pipeline.SourceWiki,
		})
	}
	return hits, nil
}
