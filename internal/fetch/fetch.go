// Package fetch retrieves pages and extracts their readable text. Every
// failure mode maps to a nil page: a URL that cannot be fetched simply drops
// out of ranking instead of failing the request.
package fetch

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/nkamali/faro/internal/pipeline"
)

// Options configure an HTTP fetcher.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	MaxChars     int
	CacheTTL     time.Duration
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 4 << 20
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 20000
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 10 * time.Minute
	}
	return o
}

// HTTP fetches pages over plain HTTP and runs readability extraction, with
// an HTML meta-tag fallback for pages readability cannot parse.
type HTTP struct {
	client *http.Client
	cache  pipeline.Cache
	logger *log.Logger
	opts   Options
}

func NewHTTP(cache pipeline.Cache, opts Options) *HTTP {
	opts = opts.normalized()
	return &HTTP{
		client: &http.Client{Timeout: opts.Timeout},
		cache:  cache,
		logger: log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
		opts:   opts,
	}
}

// Fetch implements pipeline.Fetcher. It returns (nil, nil) for every failure.
func (f *HTTP) Fetch(ctx context.Context, rawURL string) (*pipeline.Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "http") {
		return nil, nil
	}
	if page := f.cached(ctx, rawURL); page != nil {
		return page, nil
	}

	html, err := f.download(ctx, rawURL)
	if err != nil {
		f.logger.Printf("fetch %s: %v", rawURL, err)
		return nil, nil
	}

	page := f.extract(rawURL, html)
	if page == nil {
		return nil, nil
	}
	f.store(ctx, rawURL, page)
	return page, nil
}

func (f *HTTP) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &url.Error{Op: "Get", URL: rawURL, Err: io.EOF}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// extract parses readable text out of the HTML: readability first, then a
// goquery pass over title/meta/paragraphs when readability yields nothing.
func (f *HTTP) extract(rawURL, html string) *pipeline.Page {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return &pipeline.Page{
			URL:    rawURL,
			Title:  strings.TrimSpace(article.Title),
			Text:   clip(strings.TrimSpace(article.TextContent), f.opts.MaxChars),
			Author: strings.TrimSpace(article.Byline),
		}
	}
	return f.metaFallback(rawURL, html)
}

func (f *HTTP) metaFallback(rawURL, html string) *pipeline.Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		title = og
	}
	var parts []string
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && desc != "" {
		parts = append(parts, desc)
	}
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if text == "" {
		return nil
	}
	return &pipeline.Page{URL: rawURL, Title: title, Text: clip(text, f.opts.MaxChars)}
}

func (f *HTTP) cached(ctx context.Context, rawURL string) *pipeline.Page {
	if f.cache == nil {
		return nil
	}
	raw, ok := f.cache.Get(ctx, "page:"+rawURL)
	if !ok {
		return nil
	}
	var page pipeline.Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil
	}
	return &page
}

func (f *HTTP) store(ctx context.Context, rawURL string, page *pipeline.Page) {
	if f.cache == nil {
		return
	}
	if raw, err := json.Marshal(page); err == nil {
		f.cache.Set(ctx, "page:"+rawURL, raw, f.opts.CacheTTL)
	}
}

func clip(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
