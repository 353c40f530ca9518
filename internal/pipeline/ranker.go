package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
)

// CosineSimilarity computes dot(a,b) / (||a||*||b|| + eps). The epsilon keeps
// an all-zero vector (the fallback substituted when an embedding call
// silently failed) from dividing by zero; such vectors simply score 0.
func CosineSimilarity(a, b []float32) float64 {
	const eps = 1e-12
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + eps)
}

// Ranker embeds the query plus candidate chunks, orders candidates by cosine
// similarity, and optionally refines a bounded top pool with a cross-encoder
// reranker. When the reranker is unavailable or fails, the cosine ordering
// stands.
type Ranker struct {
	embedder Embedder
	reranker Reranker
	cache    Cache
	logger   *log.Logger
	group    singleflight.Group

	batchSize int
	inputCap  int
	cacheTTL  time.Duration
}

// NewRanker builds a ranker. reranker and cache may be nil.
func NewRanker(embedder Embedder, reranker Reranker, cache Cache, batchSize, inputCap int, cacheTTL time.Duration) *Ranker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if inputCap <= 0 {
		inputCap = 2000
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Ranker{
		embedder:  embedder,
		reranker:  reranker,
		cache:     cache,
		logger:    log.New(log.Writer(), "[RANK] ", log.LstdFlags),
		batchSize: batchSize,
		inputCap:  inputCap,
		cacheTTL:  cacheTTL,
	}
}

// Rank scores chunks against the query and returns the top k, ordered by
// descending relevance. The sort is stable: ties keep collection order, so
// identical inputs always produce identical output.
func (r *Ranker) Rank(ctx context.Context, query string, chunks []Chunk, pool, topK int) []ScoredChunk {
	return r.rank(ctx, query, chunks, pool, topK, true)
}

// RankCosine is Rank without the cross-encoder pass. Fast requests use it:
// cosine order over the reduced fast pool is good enough there and saves a
// model round trip.
func (r *Ranker) RankCosine(ctx context.Context, query string, chunks []Chunk, pool, topK int) []ScoredChunk {
	return r.rank(ctx, query, chunks, pool, topK, false)
}

func (r *Ranker) rank(ctx context.Context, query string, chunks []Chunk, pool, topK int, withReranker bool) []ScoredChunk {
	if len(chunks) == 0 {
		return nil
	}
	if pool <= 0 {
		pool = 40
	}
	if topK <= 0 || topK > pool {
		topK = pool
	}

	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, truncate(query, r.inputCap))
	for _, c := range chunks {
		texts = append(texts, truncate(c.Text, r.inputCap))
	}
	vecs := r.embedAll(ctx, texts)
	queryVec := vecs[0]

	scored := make([]ScoredChunk, len(chunks))
	for i, c := range chunks {
		scored[i] = ScoredChunk{Chunk: c, Score: CosineSimilarity(queryVec, vecs[i+1])}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > pool {
		scored = scored[:pool]
	}
	if withReranker {
		scored = r.rerank(ctx, query, scored)
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// rerank applies the optional cross-encoder pass over the candidate pool.
// Any failure falls back to the incoming (cosine) ordering.
func (r *Ranker) rerank(ctx context.Context, query string, pool []ScoredChunk) []ScoredChunk {
	if r.reranker == nil || len(pool) < 2 {
		return pool
	}
	docs := make([]string, len(pool))
	for i, sc := range pool {
		docs[i] = truncate(sc.Chunk.Text, r.inputCap)
	}
	results, err := r.reranker.Rerank(ctx, query, docs, len(pool))
	if err != nil || len(results) == 0 {
		if err != nil {
			r.logger.Printf("rerank failed, keeping cosine order: %v", err)
		}
		return pool
	}
	out := make([]ScoredChunk, 0, len(results))
	seen := make(map[int]struct{}, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(pool) {
			continue
		}
		if _, dup := seen[res.Index]; dup {
			continue
		}
		seen[res.Index] = struct{}{}
		sc := pool[res.Index]
		sc.Score = res.Score
		out = append(out, sc)
	}
	// keep anything the reranker dropped, in cosine order, behind the reranked set
	for i, sc := range pool {
		if _, ok := seen[i]; !ok {
			out = append(out, sc)
		}
	}
	return out
}

// embedAll returns one vector per input text, batched to the provider limit.
// Texts are cached individually (embedding is a pure function of its input);
// cache misses for a batch are guarded by singleflight so concurrent
// requests over the same material embed it once. A failed embedding call
// substitutes zero vectors rather than failing the request.
func (r *Ranker) embedAll(ctx context.Context, texts []string) [][]float32 {
	vecs := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if v, ok := r.cacheGet(ctx, text); ok {
			vecs[i] = v
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += r.batchSize {
		end := start + r.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batchIdx := missing[start:end]
		batch := make([]string, len(batchIdx))
		for j, i := range batchIdx {
			batch[j] = texts[i]
		}
		got := r.embedBatch(ctx, batch)
		for j, i := range batchIdx {
			if j < len(got) && len(got[j]) > 0 {
				vecs[i] = got[j]
				r.cacheSet(ctx, texts[i], got[j])
			} else {
				vecs[i] = nil // cosine treats nil as a zero vector
			}
		}
	}
	return vecs
}

func (r *Ranker) embedBatch(ctx context.Context, batch []string) [][]float32 {
	key := batchKey(batch)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.embedder.Embed(ctx, batch)
	})
	if err != nil {
		r.logger.Printf("embedding batch of %d failed: %v", len(batch), err)
		return nil
	}
	out, _ := v.([][]float32)
	return out
}

func (r *Ranker) cacheGet(ctx context.Context, text string) ([]float32, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, ok := r.cache.Get(ctx, embedKey(text))
	if !ok {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (r *Ranker) cacheSet(ctx context.Context, text string, vec []float32) {
	if r.cache == nil {
		return
	}
	if raw, err := json.Marshal(vec); err == nil {
		r.cache.Set(ctx, embedKey(text), raw, r.cacheTTL)
	}
}

func embedKey(text string) string {
	sum := sha1.Sum([]byte(text))
	return "embed:" + hex.EncodeToString(sum[:])
}

func batchKey(batch []string) string {
	h := sha1.New()
	for _, t := range batch {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
