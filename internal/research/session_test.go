package research

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nkamali/faro/internal/pipeline"
)

type keywordEmbedder struct{}

// keywordEmbedder maps texts onto a tiny fixed vocabulary so vector search
// is deterministic in tests.
func (keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vocab := []string{"solar", "wind", "battery"}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, len(vocab))
		lower := strings.ToLower(t)
		for j, w := range vocab {
			if strings.Contains(lower, w) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, nil
}

func testChunks() []pipeline.ScoredChunk {
	mk := func(id, url, title, text string) pipeline.ScoredChunk {
		return pipeline.ScoredChunk{Chunk: pipeline.Chunk{
			ID: id, Text: text,
			Source: pipeline.ChunkSource{Type: pipeline.SourceWeb, URL: url, Title: title},
		}}
	}
	return []pipeline.ScoredChunk{
		mk("d1", "https://a.example", "Solar", "Solar panel efficiency improved again this year."),
		mk("d2", "https://b.example", "Wind", "Wind turbine capacity grew across coastal regions."),
		mk("d3", "https://c.example", "Battery", "Battery storage deployments hit a record volume."),
	}
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(keywordEmbedder{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.AddChunks(context.Background(), testChunks()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestKeywordSearch(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)
	hits, err := s.KeywordSearch("solar panel", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].DocID != "d1" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Rank != 1 {
		t.Fatalf("rank = %d", hits[0].Rank)
	}
}

func TestVectorSearch(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)
	hits, err := s.VectorSearch(context.Background(), "battery storage", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].DocID != "d3" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestHybridSearchFusesRankings(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)
	hits, err := s.HybridSearch(context.Background(), "wind", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].DocID != "d2" {
		t.Fatalf("hits = %+v", hits)
	}
	for i, h := range hits {
		if h.Rank != i+1 {
			t.Fatalf("ranks not reassigned: %+v", hits)
		}
	}
}

func TestFuseRRFSharedDocWins(t *testing.T) {
	t.Parallel()
	a := []SearchHit{{DocID: "x", Rank: 1}, {DocID: "y", Rank: 2}}
	b := []SearchHit{{DocID: "y", Rank: 1}, {DocID: "z", Rank: 2}}
	fused := FuseRRF(a, b, 3)
	if fused[0].DocID != "y" {
		t.Fatalf("doc present in both rankings should fuse highest: %+v", fused)
	}
}

func TestAddChunksDedups(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)
	if err := s.AddChunks(context.Background(), testChunks()); err != nil {
		t.Fatal(err)
	}
	if s.Size() != 3 {
		t.Fatalf("size = %d after re-adding same chunks, want 3", s.Size())
	}
}

type gatedEmbedder struct {
	release chan struct{}
}

func (g *gatedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestObserveReturnsBeforeIngestion(t *testing.T) {
	t.Parallel()
	gate := &gatedEmbedder{release: make(chan struct{})}
	store := NewStore(gate, time.Hour)
	defer store.Close()

	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	observe := store.Observe()
	start := time.Now()
	observe(pipeline.Request{SessionID: sess.ID()}, pipeline.SubTask{}, testChunks())
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Fatalf("observer blocked for %v while the embedder was stalled", d)
	}

	close(gate.release)
	deadline := time.Now().Add(2 * time.Second)
	for sess.Size() != len(testChunks()) {
		if time.Now().After(deadline) {
			t.Fatalf("ingestion never completed, size = %d", sess.Size())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()
	store := NewStore(keywordEmbedder{}, time.Hour)
	defer store.Close()

	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(sess.ID())
	if err != nil || got.ID() != sess.ID() {
		t.Fatalf("Get = %v, %v", got, err)
	}
	store.Delete(sess.ID())
	if _, err := store.Get(sess.ID()); err == nil {
		t.Fatal("deleted session still retrievable")
	}
}

func TestStoreReapsExpired(t *testing.T) {
	t.Parallel()
	store := NewStore(keywordEmbedder{}, time.Millisecond)
	defer store.Close()

	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	store.reap(time.Now())
	if _, err := store.Get(sess.ID()); err == nil {
		t.Fatal("expired session still retrievable")
	}
}
