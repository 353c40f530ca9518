package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nkamali/faro/internal/helpers"
	"github.com/nkamali/faro/internal/telemetry"
)

const searchCacheTTL = 10 * time.Minute

// Collector fans a query out to every registered retrieval provider in
// parallel. One provider's failure or timeout never aborts the others: a
// failed branch contributes an empty list.
type Collector struct {
	providers []SearchProvider
	extra     []SearchProvider // alternate web backends, merged only when primary web results are thin
	cache     Cache
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	perSourceMax  int
	minWebResults int
	timeout       time.Duration
}

// NewCollector builds a collector over the given primary and supplementary
// providers. cache and tele may be nil.
func NewCollector(providers, extra []SearchProvider, cache Cache, tele *telemetry.Telemetry, perSourceMax, minWebResults int, timeout time.Duration) *Collector {
	if perSourceMax <= 0 {
		perSourceMax = 10
	}
	if minWebResults <= 0 {
		minWebResults = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Collector{
		providers:     providers,
		extra:         extra,
		cache:         cache,
		telemetry:     tele,
		logger:        log.New(log.Writer(), "[COLLECT] ", log.LstdFlags),
		perSourceMax:  perSourceMax,
		minWebResults: minWebResults,
		timeout:       timeout,
	}
}

// Collect runs the fan-out for one query and returns hits deduplicated by
// normalized URL, in provider-then-rank order. maxPerSource overrides the
// configured per-provider result cap for this call; 0 keeps the default.
func (c *Collector) Collect(ctx context.Context, query string, maxPerSource int) []Hit {
	if maxPerSource <= 0 {
		maxPerSource = c.perSourceMax
	}
	hits := c.fanOut(ctx, c.providers, query, maxPerSource)

	if c.needsExtraEngines(hits, query) && len(c.extra) > 0 {
		c.logger.Printf("primary web results thin for %q, merging extra engines", query)
		hits = append(hits, c.fanOut(ctx, c.extra, query, maxPerSource)...)
	}

	return DeduplicateHits(hits)
}

func (c *Collector) fanOut(ctx context.Context, providers []SearchProvider, query string, max int) []Hit {
	results := make([][]Hit, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p SearchProvider) {
			defer wg.Done()
			results[i] = c.searchOne(ctx, p, query, max)
		}(i, p)
	}
	wg.Wait()

	var out []Hit
	for i, r := range results {
		c.telemetry.RecordHits(string(providers[i].Type()), len(r))
		out = append(out, r...)
	}
	return out
}

// searchOne wraps a single provider call: cache consult, hard timeout, and
// degrade-to-empty on any failure.
func (c *Collector) searchOne(ctx context.Context, p SearchProvider, query string, max int) []Hit {
	key := fmt.Sprintf("search:%s:%d:%s", p.Type(), max, strings.ToLower(strings.TrimSpace(query)))
	if c.cache != nil {
		if raw, ok := c.cache.Get(ctx, key); ok {
			var cached []Hit
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached
			}
		}
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	hits, err := p.Search(sctx, query, max)
	if err != nil {
		c.logger.Printf("%s search failed: %v", p.Type(), err)
		return nil
	}
	for i := range hits {
		if hits[i].SourceType == "" {
			hits[i].SourceType = p.Type()
		}
		hits[i].URL = helpers.NormalizeURL(hits[i].URL)
	}
	if c.cache != nil && len(hits) > 0 {
		if raw, err := json.Marshal(hits); err == nil {
			c.cache.Set(ctx, key, raw, searchCacheTTL)
		}
	}
	return hits
}

// needsExtraEngines reports whether the primary web results are sparse or
// fail a simple on-topic check (title/snippet containing a query substring).
func (c *Collector) needsExtraEngines(hits []Hit, query string) bool {
	web := 0
	onTopic := false
	q := strings.ToLower(strings.TrimSpace(query))
	for _, h := range hits {
		if h.SourceType != SourceWeb && h.SourceType != SourceNews {
			continue
		}
		web++
		text := strings.ToLower(h.Title + " " + h.Snippet)
		if q != "" && strings.Contains(text, q) {
			onTopic = true
		}
	}
	return web < c.minWebResults || !onTopic
}

// DeduplicateHits removes duplicates by normalized URL, keeping first
// occurrence order. Hits without a URL are kept as-is.
func DeduplicateHits(in []Hit) []Hit {
	seen := make(map[string]struct{}, len(in))
	out := make([]Hit, 0, len(in))
	for _, h := range in {
		key := helpers.NormalizeURL(h.URL)
		if key == "" {
			out = append(out, h)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// RewriteQuery produces the per-round query variant used by the collection
// loop: round 0 is the raw query, later rounds progressively constrain or
// broaden it.
func RewriteQuery(query string, round int) string {
	query = strings.TrimSpace(query)
	switch round {
	case 0:
		return query
	case 1:
		return `"` + query + `"`
	case 2:
		return query + " site:wikipedia.org OR site:arxiv.org"
	case 3:
		return fmt.Sprintf("%s %d", query, time.Now().Year())
	default:
		return query + " explained"
	}
}
