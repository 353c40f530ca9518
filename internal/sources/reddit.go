package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nkamali/faro/internal/pipeline"
)

const (
	redditTokenURL  = "https://www.reddit.com/api/v1/access_token"
	redditSearchURL = "https://oauth.reddit.com/search"
	redditUserAgent = "faro/1.0 (research aggregator)"
)

// Reddit searches public posts through the OAuth API using the
// client-credentials grant. The token is cached until shortly before expiry;
// concurrent refreshes are collapsed through singleflight.
type Reddit struct {
	clientID     string
	clientSecret string
	max          int
	http         *Client

	tokenURL  string
	searchURL string

	mu       sync.Mutex
	token    string
	expires  time.Time
	refresh  singleflight.Group
}

func NewReddit(clientID, clientSecret string, max int, http *Client) *Reddit {
	if max <= 0 {
		max = 8
	}
	return &Reddit{
		clientID:     clientID,
		clientSecret: clientSecret,
		max:          max,
		http:         http,
		tokenURL:     redditTokenURL,
		searchURL:    redditSearchURL,
	}
}

func (r *Reddit) Type() pipeline.SourceType { return pipeline.SourceReddit }

func (r *Reddit) Search(ctx context.Context, query string, max int) ([]pipeline.Hit, error) {
	if r.clientID == "" || r.clientSecret == "" {
		return nil, nil
	}
	if max <= 0 || max > r.max {
		max = r.max
	}
	token, err := r.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("reddit token: %w", err)
	}

	var resp struct {
		Data struct {
			Children []struct {
				Data struct {
					Title     string `json:"title"`
					Permalink string `json:"permalink"`
					Selftext  string `json:"selftext"`
					Subreddit string `json:"subreddit"`
					Author    string `json:"author"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"User-Agent":    redditUserAgent,
	}
	endpoint := fmt.Sprintf("%s?q=%s&limit=%d&sort=relevance&type=link", r.searchURL, url.QueryEscape(query), max)
	if err := r.http.DoJSON(ctx, "GET", endpoint, headers, nil, &resp); err != nil {
		return nil, err
	}

	var hits []pipeline.Hit
	for _, child := range resp.Data.Children {
		d := child.Data
		snippet := d.Selftext
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
		hits = append(hits, pipeline.Hit{
			Title:      d.Title,
			URL:        "https://www.reddit.com" + d.Permalink,
			Snippet:    snippet,
			SourceType: pipeline.SourceReddit,
			Extra:      map[string]string{"subreddit": d.Subreddit, "author": d.Author},
		})
	}
	return hits, nil
}

func (r *Reddit) accessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.token != "" && time.Now().Before(r.expires) {
		token := r.token
		r.mu.Unlock()
		return token, nil
	}
	r.mu.Unlock()

	v, err, _ := r.refresh.Do("token", func() (interface{}, error) {
		return r.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Reddit) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, "POST", r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(r.clientID + ":" + r.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", redditUserAgent)

	resp, err := r.http.client.Do(req)
	if err != nil {
		return "", err
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if ok, err := decodeResponse(resp, &body); !ok || err != nil {
		if err == nil {
			err = fmt.Errorf("token request rejected")
		}
		return "", err
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}

	r.mu.Lock()
	r.token = body.AccessToken
	// refresh one minute early to avoid using a token at the expiry edge
	r.expires = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	r.mu.Unlock()
	return body.AccessToken, nil
}
