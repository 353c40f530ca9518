package pipeline

import (
	"context"
	"time"
)

// SourceType tags where a hit came from. Providers map their own response
// shapes onto Hit at the collection boundary; nothing provider-specific
// leaks past it.
type SourceType string

const (
	SourceWeb             SourceType = "web"
	SourceNews            SourceType = "news"
	SourceWiki            SourceType = "wiki"
	SourceReddit          SourceType = "reddit"
	SourceTwitter         SourceType = "twitter"
	SourceYouTube         SourceType = "youtube"
	SourceArxiv           SourceType = "arxiv"
	SourceSemanticScholar SourceType = "semanticscholar"
	SourceInstagram       SourceType = "instagram"
)

// Hit is a normalized single search result from any provider.
type Hit struct {
	Title      string            `json:"title"`
	URL        string            `json:"url"`
	Snippet    string            `json:"snippet"`
	SourceType SourceType        `json:"source_type"`
	Extra      map[string]string `json:"extra,omitempty"` // date, subreddit, author id, video id...
}

// Page is a fetched and extracted document.
type Page struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

// ChunkSource carries the provenance of a chunk back to its originating hit.
type ChunkSource struct {
	Type  SourceType        `json:"type"`
	URL   string            `json:"url"`
	Title string            `json:"title"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Chunk is a bounded slice of source text, the unit of ranking. Chunks are
// ephemeral: created and discarded within one request.
type Chunk struct {
	ID     string      `json:"id"`
	Text   string      `json:"text"`
	Source ChunkSource `json:"source"`
}

// ScoredChunk pairs a chunk with its similarity score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// FusedFact is a deduplicated sentence-level claim with the set of chunk
// indices supporting it. Supporting indices only grow during fusion.
type FusedFact struct {
	Key     string `json:"-"` // normalized sentence, the dedup key
	Display string `json:"text"`
	Support []int  `json:"support"` // 1-based source indices, first-contribution order
}

// MissingCitation flags an answer snippet lacking a supporting citation.
type MissingCitation struct {
	Snippet    string `json:"snippet"`
	Suggestion string `json:"suggestion"`
}

// VerificationResult is the outcome of the post-hoc answer check.
type VerificationResult struct {
	Contradictions   []string          `json:"contradictions"`
	MissingCitations []MissingCitation `json:"missing_citations"`
	Confidence       float64           `json:"confidence"`
	NeedsRetry       bool              `json:"needs_retry"`
	Refinements      []string          `json:"refinements,omitempty"`
}

// TaskKind classifies a decomposed sub-task.
type TaskKind string

const (
	TaskNews       TaskKind = "news"
	TaskTranscript TaskKind = "transcript"
	TaskGeneric    TaskKind = "generic"
)

// SubTask is one decomposed unit of a multi-intent query. Immutable after
// planning; consumed by a single pipeline pass.
type SubTask struct {
	ID    string   `json:"id"`
	Kind  TaskKind `json:"kind"`
	Query string   `json:"query"`
	Place string   `json:"place,omitempty"` // news tasks
	Scope string   `json:"scope,omitempty"` // country or city
	Date  string   `json:"date,omitempty"`
	Month string   `json:"month,omitempty"`
	Year  string   `json:"year,omitempty"`
	Title string   `json:"title,omitempty"` // transcript tasks
}

// SourceRef is an answer citation surfaced to the caller.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Answer is the composed result of one request.
type Answer struct {
	FormattedAnswer string              `json:"formatted_answer"`
	Sources         []SourceRef         `json:"sources"`
	Images          []string            `json:"images"`
	Verification    *VerificationResult `json:"verification,omitempty"`
	Plan            []SubTask           `json:"plan,omitempty"`
	LastFetched     time.Time           `json:"last_fetched"`
}

// SearchProvider is one external retrieval backend. Implementations return an
// empty list when credentials are absent, never an error for that case.
type SearchProvider interface {
	Search(ctx context.Context, query string, max int) ([]Hit, error)
	Type() SourceType
}

// Fetcher retrieves and extracts readable text from a URL. All failures map
// to (nil, nil): a failed fetch just drops the hit from consideration.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Embedder turns texts into vectors, batched.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text from a prompt against a named model.
type Generator interface {
	Generate(ctx context.Context, prompt, model string, opts GenOptions) (string, error)
}

// GenOptions are per-call generation knobs.
type GenOptions struct {
	Temperature float64
	MaxTokens   int
}

// RerankResult is one scored document from a cross-encoder pass.
type RerankResult struct {
	Index int
	Score float64
}

// Reranker is the optional second-stage relevance scorer.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
}

// Cache is the shared get/set store used for pages, search results and
// embeddings. Last-write-wins; staleness is bounded by TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}
