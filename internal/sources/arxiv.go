package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nkamali/faro/internal/pipeline"
)

const arxivDefaultURL = "http://export.arxiv.org/api/query"

// Arxiv searches preprints through the export API. The API speaks Atom XML,
// not JSON, so it bypasses the shared DoJSON helper.
type Arxiv struct {
	enabled bool
	max     int
	http    *Client
	baseURL string
}

func NewArxiv(enabled bool, max int, http *Client) *Arxiv {
	if max <= 0 {
		max = 5
	}
	return &Arxiv{enabled: enabled, max: max, http: http, baseURL: arxivDefaultURL}
}

func (a *Arxiv) Type() pipeline.SourceType { return pipeline.SourceArxiv }

func (a *Arxiv) Search(ctx context.Context, query string, max int) ([]pipeline.Hit, error) {
	if !a.enabled {
		return nil, nil
	}
	if max <= 0 || max > a.max {
		max = a.max
	}
	endpoint := fmt.Sprintf("%s?search_query=all:%s&max_results=%d", a.baseURL, url.QueryEscape(query), max)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %s", resp.Status, string(b))
	}

	var feed struct {
		Entries []struct {
			Title   string `xml:"title"`
			Summary string `xml:"summary"`
			ID      string `xml:"id"`
			Authors []struct {
				Name string `xml:"name"`
			} `xml:"author"`
			Published string `xml:"published"`
		} `xml:"entry"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, err
	}

	var hits []pipeline.Hit
	for _, e := range feed.Entries {
		snippet := strings.Join(strings.Fields(e.Summary), " ")
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
		extra := map[string]string{"date": e.Published}
		if len(e.Authors) > 0 {
			extra["author"] = e.Authors[0].Name
		}
		hits = append(hits, pipeline.Hit{
			Title:      strings.Join(strings.Fields(e.Title), " "),
			URL:        e.ID,
			Snippet:    snippet,
			SourceType: pipeline.SourceArxiv,
			Extra:      extra,
		})
	}
	return hits, nil
}
