package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nkamali/faro/internal/pipeline"
)

const youtubeDefaultURL = "https://www.googleapis.com/youtube/v3/search"

// YouTube searches videos through the Data API; useful for transcript and
// event-coverage tasks.
type YouTube struct {
	apiKey  string
	max     int
	http    *Client
	baseURL string
}

func NewYouTube(apiKey string, max int, http *Client) *YouTube {
	if max <= 0 {
		max = 5
	}
	return &YouTube{apiKey: apiKey, max: max, http: http, baseURL: youtubeDefaultURL}
}

func (y *YouTube) Type() pipeline.SourceType { return pipeline.SourceYouTube }

func (y *YouTube) Search(ctx context.Context, query string, max int) ([]pipeline.Hit, error) {
	if y.apiKey == "" {
		return nil, nil
	}
	if max <= 0 || max > y.max {
		max = y.max
	}
	var resp struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				Description  string `json:"description"`
				ChannelTitle string `json:"channelTitle"`
				PublishedAt  string `json:"publishedAt"`
			} `json:"snippet"`
		} `json:"items"`
	}
	endpoint := fmt.Sprintf("%s?part=snippet&type=video&maxResults=%d&q=%s&key=%s",
		y.baseURL, max, url.QueryEscape(query), url.QueryEscape(y.apiKey))
	if err := y.http.DoJSON(ctx, "GET", endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}

	var hits []pipeline.Hit
	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			continue
		}
		hits = append(hits, pipeline.Hit{
			Title:      item.Snippet.Title,
			URL:        "https://www.youtube.com/watch?v=" + item.ID.VideoID,
			Snippet:    item.Snippet.Description,
			SourceType: pipeline.SourceYouTube,
			Extra: map[string]string{
				"channel": item.Snippet.ChannelTitle,
				"date":    item.Snippet.PublishedAt,
				"video":   item.ID.VideoID,
			},
		})
	}
	return hits, nil
}
