// Package research provides ephemeral research sessions: per-session
// in-memory indexes over the material gathered for a line of questioning,
// searchable by BM25, vector similarity, or a reciprocal-rank fusion of both.
package research

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"

	"github.com/nkamali/faro/internal/pipeline"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// Doc is one indexed piece of session material.
type Doc struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SearchHit is one session search result.
type SearchHit struct {
	DocID   string  `json:"doc_id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

type docVector struct {
	docID string
	vec   []float32
}

// Session holds one ephemeral research corpus: a mem-only bleve index for
// keyword search plus in-memory vectors for similarity search. Sessions are
// small; vectors live in a plain slice.
type Session struct {
	id        string
	expiresAt time.Time
	index     bleve.Index
	embedder  pipeline.Embedder

	mu      sync.RWMutex
	docs    map[string]Doc
	vectors []docVector
}

func NewSession(embedder pipeline.Embedder, ttl time.Duration) (*Session, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Session{
		id:        uuid.NewString(),
		expiresAt: time.Now().Add(ttl),
		index:     index,
		embedder:  embedder,
		docs:      make(map[string]Doc),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Expired(now time.Time) bool { return now.After(s.expiresAt) }

// Touch extends the session's lifetime.
func (s *Session) Touch(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Now().Add(ttl)
}

// AddChunks indexes ranked chunks from a pipeline run into the session,
// keyword index and vectors both. Embedding failures degrade the session to
// keyword-only search for those documents.
func (s *Session) AddChunks(ctx context.Context, chunks []pipeline.ScoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]Doc, len(chunks))
	texts := make([]string, len(chunks))
	for i, sc := range chunks {
		docs[i] = Doc{
			ID:    sc.Chunk.ID,
			URL:   sc.Chunk.Source.URL,
			Title: sc.Chunk.Source.Title,
			Text:  sc.Chunk.Text,
		}
		texts[i] = sc.Chunk.Text
	}

	var vecs [][]float32
	if s.embedder != nil {
		vecs, _ = s.embedder.Embed(ctx, texts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range docs {
		if _, dup := s.docs[doc.ID]; dup {
			continue
		}
		if err := s.index.Index(doc.ID, doc); err != nil {
			return err
		}
		s.docs[doc.ID] = doc
		if i < len(vecs) && len(vecs[i]) > 0 {
			s.vectors = append(s.vectors, docVector{docID: doc.ID, vec: vecs[i]})
		}
	}
	return nil
}

// Size reports the number of indexed documents.
func (s *Session) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// KeywordSearch runs a BM25 query over the session corpus.
func (s *Session) KeywordSearch(query string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	q := bleve.NewQueryStringQuery(query)
	req := bleve.NewSearchRequestOptions(q, k*3, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SearchHit
	for i, hit := range res.Hits {
		doc := s.docs[hit.ID]
		out = append(out, SearchHit{
			DocID: hit.ID, URL: doc.URL, Title: doc.Title,
			Snippet: snippet(doc.Text), Score: hit.Score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// VectorSearch ranks the session corpus by cosine similarity to the query.
func (s *Session) VectorSearch(ctx context.Context, query string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	if s.embedder == nil {
		return nil, nil
	}
	qvecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(qvecs) == 0 {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		docID string
		score float64
	}
	scoreds := make([]scored, 0, len(s.vectors))
	for _, v := range s.vectors {
		scoreds = append(scoreds, scored{docID: v.docID, score: pipeline.CosineSimilarity(qvecs[0], v.vec)})
	}
	sort.SliceStable(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })

	var out []SearchHit
	for i, sc := range scoreds {
		doc := s.docs[sc.docID]
		out = append(out, SearchHit{
			DocID: sc.docID, URL: doc.URL, Title: doc.Title,
			Snippet: snippet(doc.Text), Score: sc.score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// HybridSearch fuses keyword and vector rankings with reciprocal-rank fusion.
func (s *Session) HybridSearch(ctx context.Context, query string, k int) ([]SearchHit, error) {
	kw, err := s.KeywordSearch(query, k)
	if err != nil {
		return nil, err
	}
	vec, err := s.VectorSearch(ctx, query, k)
	if err != nil {
		// vector side degrading still leaves keyword results
		vec = nil
	}
	return FuseRRF(kw, vec, k), nil
}

// FuseRRF merges two rankings by reciprocal rank, re-ranking from 1.
func FuseRRF(a, b []SearchHit, k int) []SearchHit {
	type agg struct {
		hit   SearchHit
		score float64
	}
	m := make(map[string]*agg, len(a)+len(b))
	add := func(list []SearchHit) {
		for _, h := range list {
			x, ok := m[h.DocID]
			if !ok {
				x = &agg{hit: h}
				m[h.DocID] = x
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	add(a)
	add(b)

	fused := make([]SearchHit, 0, len(m))
	for _, v := range m {
		h := v.hit
		h.Score = v.score
		fused = append(fused, h)
	}
	sort.SliceStable(fused, func(i, j int) bool { return fused[i].Score > fused[j].Score })
	if len(fused) > k && k > 0 {
		fused = fused[:k]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

// Close releases the underlying index.
func (s *Session) Close() error { return s.index.Close() }

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
