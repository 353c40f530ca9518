package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	// vecFor maps exact input text to its vector; unknown texts embed to zero.
	vecFor map[string][]float32
	err    error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vecFor[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 0}
		}
	}
	return out, nil
}

type stubReranker struct {
	mu      sync.Mutex
	calls   int
	results []RerankResult
	err     error
}

func (s *stubReranker) Rerank(_ context.Context, _ string, _ []string, _ int) ([]RerankResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.results, s.err
}

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"nil", nil, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("CosineSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRankOrdersByCosine(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vecFor: map[string][]float32{
		"climate policy": {1, 0, 0},
		"on topic":       {0.9, 0.1, 0},
		"nearby":         {0.5, 0.5, 0},
		"unrelated":      {0, 0, 1},
	}}
	r := NewRanker(emb, nil, nil, 100, 2000, time.Hour)

	chunks := []Chunk{
		{ID: "a", Text: "unrelated"},
		{ID: "b", Text: "on topic"},
		{ID: "c", Text: "nearby"},
	}
	got := r.Rank(context.Background(), "climate policy", chunks, 40, 3)
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	if got[0].Chunk.ID != "b" || got[1].Chunk.ID != "c" || got[2].Chunk.ID != "a" {
		t.Fatalf("wrong order: %s, %s, %s", got[0].Chunk.ID, got[1].Chunk.ID, got[2].Chunk.ID)
	}
	if got[0].Score <= got[1].Score || got[1].Score <= got[2].Score {
		t.Fatalf("scores not descending: %v %v %v", got[0].Score, got[1].Score, got[2].Score)
	}
}

func TestRankStableOnTies(t *testing.T) {
	t.Parallel()
	// every chunk embeds to the same vector, so ordering must follow input order
	same := []float32{1, 1, 0}
	emb := &stubEmbedder{vecFor: map[string][]float32{
		"q": {1, 0, 0}, "one": same, "two": same, "three": same,
	}}
	r := NewRanker(emb, nil, nil, 100, 2000, time.Hour)
	chunks := []Chunk{{ID: "1", Text: "one"}, {ID: "2", Text: "two"}, {ID: "3", Text: "three"}}
	got := r.Rank(context.Background(), "q", chunks, 40, 3)
	for i, want := range []string{"1", "2", "3"} {
		if got[i].Chunk.ID != want {
			t.Fatalf("position %d: got %s, want %s", i, got[i].Chunk.ID, want)
		}
	}
}

func TestRankEmbedFailureDegrades(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{err: errors.New("provider down")}
	r := NewRanker(emb, nil, nil, 100, 2000, time.Hour)
	chunks := []Chunk{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}}
	got := r.Rank(context.Background(), "q", chunks, 40, 2)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	// zero vectors all score 0; original order survives
	if got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" {
		t.Fatalf("wrong order under failure: %s, %s", got[0].Chunk.ID, got[1].Chunk.ID)
	}
}

func TestRankTruncatesLongInputs(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("z", 5000)
	emb := &stubEmbedder{vecFor: map[string][]float32{}}
	var seen []string
	inner := emb
	capture := embedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		seen = append(seen, texts...)
		return inner.Embed(ctx, texts)
	})
	r := NewRanker(capture, nil, nil, 100, 2000, time.Hour)
	r.Rank(context.Background(), "q", []Chunk{{ID: "a", Text: long}}, 40, 1)
	for _, s := range seen {
		if len(s) > 2000 {
			t.Fatalf("embedder saw input of %d chars, cap is 2000", len(s))
		}
	}
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f embedFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

func TestRankBatchesRequests(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vecFor: map[string][]float32{}}
	r := NewRanker(emb, nil, nil, 10, 2000, time.Hour)
	chunks := make([]Chunk, 25)
	for i := range chunks {
		chunks[i] = Chunk{ID: string(rune('a' + i)), Text: strings.Repeat("w", i+1)}
	}
	r.Rank(context.Background(), "q", chunks, 40, 5)
	// 26 texts (query + 25 chunks) at batch size 10 means 3 calls
	if emb.calls != 3 {
		t.Fatalf("embedder called %d times, want 3", emb.calls)
	}
}

func TestRankUsesEmbedCache(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vecFor: map[string][]float32{
		"q": {1, 0}, "hello": {0.5, 0.5},
	}}
	cache := newMemCache()
	r := NewRanker(emb, nil, cache, 100, 2000, time.Hour)
	chunks := []Chunk{{ID: "a", Text: "hello"}}

	r.Rank(context.Background(), "q", chunks, 40, 1)
	first := emb.calls
	r.Rank(context.Background(), "q", chunks, 40, 1)
	if emb.calls != first {
		t.Fatalf("second rank hit the embedder (%d -> %d calls), cache not used", first, emb.calls)
	}
}

func TestRerankReorders(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vecFor: map[string][]float32{
		"q": {1, 0}, "first": {0.9, 0.1}, "second": {0.8, 0.2},
	}}
	rr := &stubReranker{results: []RerankResult{{Index: 1, Score: 0.99}, {Index: 0, Score: 0.42}}}
	r := NewRanker(emb, rr, nil, 100, 2000, time.Hour)
	chunks := []Chunk{{ID: "a", Text: "first"}, {ID: "b", Text: "second"}}
	got := r.Rank(context.Background(), "q", chunks, 40, 2)
	if got[0].Chunk.ID != "b" || got[1].Chunk.ID != "a" {
		t.Fatalf("reranker ordering ignored: %s, %s", got[0].Chunk.ID, got[1].Chunk.ID)
	}
	if got[0].Score != 0.99 {
		t.Fatalf("reranker score not applied: %v", got[0].Score)
	}
}

func TestRankCosineSkipsReranker(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vecFor: map[string][]float32{
		"q": {1, 0}, "first": {0.9, 0.1}, "second": {0.8, 0.2},
	}}
	rr := &stubReranker{results: []RerankResult{{Index: 1, Score: 0.99}, {Index: 0, Score: 0.42}}}
	r := NewRanker(emb, rr, nil, 100, 2000, time.Hour)
	chunks := []Chunk{{ID: "a", Text: "first"}, {ID: "b", Text: "second"}}
	got := r.RankCosine(context.Background(), "q", chunks, 40, 2)
	if rr.calls != 0 {
		t.Fatalf("reranker called %d times on the cosine-only path", rr.calls)
	}
	if got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" {
		t.Fatalf("cosine ordering wrong: %s, %s", got[0].Chunk.ID, got[1].Chunk.ID)
	}
}

func TestRerankFailureFallsBackToCosine(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{vecFor: map[string][]float32{
		"q": {1, 0}, "first": {0.9, 0.1}, "second": {0.8, 0.2},
	}}
	rr := &stubReranker{err: errors.New("rerank service unavailable")}
	r := NewRanker(emb, rr, nil, 100, 2000, time.Hour)
	chunks := []Chunk{{ID: "a", Text: "first"}, {ID: "b", Text: "second"}}
	got := r.Rank(context.Background(), "q", chunks, 40, 2)
	if got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" {
		t.Fatalf("cosine fallback not used: %s, %s", got[0].Chunk.ID, got[1].Chunk.ID)
	}
}
