package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubProvider struct {
	kind    SourceType
	hits    []Hit
	err     error
	delay   time.Duration
	lastMax int
}

func (s *stubProvider) Search(ctx context.Context, query string, max int) ([]Hit, error) {
	s.lastMax = max
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func (s *stubProvider) Type() SourceType { return s.kind }

func TestCollectTolerantOfFailures(t *testing.T) {
	t.Parallel()
	providers := []SearchProvider{
		&stubProvider{kind: SourceWeb, hits: []Hit{{Title: "go explained", URL: "https://example.com/go", Snippet: "go"}}},
		&stubProvider{kind: SourceWiki, err: errors.New("boom")},
		&stubProvider{kind: SourceReddit, hits: []Hit{{Title: "r/golang", URL: "https://reddit.com/r/golang/1"}}},
	}
	c := NewCollector(providers, nil, nil, nil, 10, 1, time.Second)
	hits := c.Collect(context.Background(), "go", 0)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits despite one provider failing, got %d", len(hits))
	}
}

func TestCollectDeduplicatesByNormalizedURL(t *testing.T) {
	t.Parallel()
	providers := []SearchProvider{
		&stubProvider{kind: SourceWeb, hits: []Hit{
			{Title: "a", URL: "https://Example.com/page?utm_source=x", Snippet: "go"},
		}},
		&stubProvider{kind: SourceNews, hits: []Hit{
			{Title: "b", URL: "https://example.com/page", Snippet: "go"},
		}},
	}
	c := NewCollector(providers, nil, nil, nil, 10, 1, time.Second)
	hits := c.Collect(context.Background(), "go", 0)
	if len(hits) != 1 {
		t.Fatalf("expected url-normalized dedup to 1 hit, got %d", len(hits))
	}
}

func TestCollectMergesExtraEnginesWhenSparse(t *testing.T) {
	t.Parallel()
	primary := []SearchProvider{
		&stubProvider{kind: SourceWeb, hits: []Hit{{Title: "off topic", URL: "https://a.com/1"}}},
	}
	extra := []SearchProvider{
		&stubProvider{kind: SourceWeb, hits: []Hit{{Title: "rust ownership", URL: "https://b.com/1", Snippet: "rust ownership"}}},
	}
	c := NewCollector(primary, extra, nil, nil, 10, 3, time.Second)
	hits := c.Collect(context.Background(), "rust ownership", 0)
	if len(hits) != 2 {
		t.Fatalf("expected extra engines merged, got %d hits", len(hits))
	}
}

func TestCollectSkipsExtraEnginesWhenHealthy(t *testing.T) {
	t.Parallel()
	primary := []SearchProvider{
		&stubProvider{kind: SourceWeb, hits: []Hit{
			{Title: "rust ownership guide", URL: "https://a.com/1", Snippet: "rust ownership"},
			{Title: "rust ownership 2", URL: "https://a.com/2", Snippet: "rust ownership"},
			{Title: "rust ownership 3", URL: "https://a.com/3", Snippet: "rust ownership"},
		}},
	}
	extra := []SearchProvider{
		&stubProvider{kind: SourceWeb, hits: []Hit{{Title: "noise", URL: "https://b.com/1"}}},
	}
	c := NewCollector(primary, extra, nil, nil, 10, 3, time.Second)
	hits := c.Collect(context.Background(), "rust ownership", 0)
	if len(hits) != 3 {
		t.Fatalf("expected extra engines skipped, got %d hits", len(hits))
	}
}

func TestCollectTimeoutIsNotFatal(t *testing.T) {
	t.Parallel()
	providers := []SearchProvider{
		&stubProvider{kind: SourceWeb, delay: 200 * time.Millisecond, hits: []Hit{{Title: "late", URL: "https://a.com"}}},
		&stubProvider{kind: SourceWiki, hits: []Hit{{Title: "fast", URL: "https://b.com", Snippet: "q"}}},
	}
	c := NewCollector(providers, nil, nil, nil, 10, 1, 20*time.Millisecond)
	hits := c.Collect(context.Background(), "q", 0)
	if len(hits) != 1 || hits[0].Title != "fast" {
		t.Fatalf("expected only the fast provider's hit, got %+v", hits)
	}
}

func TestCollectHonorsPerRequestMax(t *testing.T) {
	t.Parallel()
	p := &stubProvider{kind: SourceWeb, hits: []Hit{{Title: "a", URL: "https://a.com/1", Snippet: "q"}}}
	c := NewCollector([]SearchProvider{p}, nil, nil, nil, 10, 1, time.Second)
	c.Collect(context.Background(), "q", 3)
	if p.lastMax != 3 {
		t.Fatalf("expected per-request max 3 to reach the provider, got %d", p.lastMax)
	}
	c.Collect(context.Background(), "q", 0)
	if p.lastMax != 10 {
		t.Fatalf("expected configured default 10 when no override, got %d", p.lastMax)
	}
}

func TestRewriteQueryRounds(t *testing.T) {
	t.Parallel()
	if got := RewriteQuery("a query", 0); got != "a query" {
		t.Fatalf("round 0: %q", got)
	}
	if got := RewriteQuery("a query", 1); got != `"a query"` {
		t.Fatalf("round 1: %q", got)
	}
	if got := RewriteQuery("a query", 2); !strings.Contains(got, "site:wikipedia.org") {
		t.Fatalf("round 2 should add site filters: %q", got)
	}
	if got := RewriteQuery("a query", 4); !strings.HasSuffix(got, "explained") {
		t.Fatalf("later rounds should append explained: %q", got)
	}
}
