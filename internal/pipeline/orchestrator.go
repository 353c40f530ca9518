package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nkamali/faro/internal/telemetry"
)

// Event is one progress notification emitted while a request runs. The
// streaming transport forwards these to the client verbatim.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// EventSink receives progress events. Sinks must not block; the orchestrator
// calls them inline.
type EventSink func(Event)

// Request is one answer request as accepted by the API layer.
type Request struct {
	Query     string `json:"query"`
	MaxWeb    int    `json:"maxWeb,omitempty"`
	TopChunks int    `json:"topChunks,omitempty"`
	Fast      bool   `json:"fast,omitempty"`
	Deep      bool   `json:"deep,omitempty"`
	Verify    *bool  `json:"verify,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Options are the orchestration knobs, normally populated from
// PipelineConfig. Zero values take the documented defaults.
type Options struct {
	MaxRounds           int
	ConfidenceBoost     float64
	ConfidenceThreshold float64
	MinSourceDiversity  int
	ChunkMaxLen         int
	CandidatePool       int
	FastCandidatePool   int
	TopChunks           int
	MaxTopChunks        int
	MaxImages           int
	FetchLimit          int
	FetchConcurrency    int
	FastFetchTimeout    time.Duration
	VerifyByDefault     bool
	Contradictions      bool
	Budget              time.Duration

	// ChunkObserver, when set, receives the ranked chunks of every sub-task.
	// Used to feed follow-up research sessions. Must not block.
	ChunkObserver func(req Request, task SubTask, top []ScoredChunk)
}

func (o Options) normalized() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 3
	}
	if o.ConfidenceBoost <= 0 {
		o.ConfidenceBoost = 1.25
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = 0.85
	}
	if o.MinSourceDiversity <= 0 {
		o.MinSourceDiversity = 3
	}
	if o.ChunkMaxLen <= 0 {
		o.ChunkMaxLen = 1500
	}
	if o.CandidatePool <= 0 {
		o.CandidatePool = 40
	}
	if o.FastCandidatePool <= 0 {
		o.FastCandidatePool = 8
	}
	if o.TopChunks <= 0 {
		o.TopChunks = 10
	}
	if o.MaxTopChunks <= 0 {
		o.MaxTopChunks = 36
	}
	if o.MaxImages <= 0 {
		o.MaxImages = 6
	}
	if o.FetchLimit <= 0 {
		o.FetchLimit = 12
	}
	if o.FetchConcurrency <= 0 {
		o.FetchConcurrency = 8
	}
	if o.FastFetchTimeout <= 0 {
		o.FastFetchTimeout = 400 * time.Millisecond
	}
	if o.Budget <= 0 {
		o.Budget = 300 * time.Second
	}
	return o
}

const insufficientContent = "Not enough verified content could be gathered for this query. Try rephrasing, or run again in deep mode."

// Orchestrator drives the full answer pipeline: plan, then per sub-task
// collect/fetch/rank/fuse/synthesize/verify, then compose. Sub-tasks run
// in parallel; one sub-task failing degrades its own section only.
type Orchestrator struct {
	planner   *Planner
	collector *Collector
	fetcher   Fetcher
	ranker    *Ranker
	fuser     *Fuser
	synth     *Synthesizer
	verifier  *Verifier
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	opts      Options
}

func NewOrchestrator(collector *Collector, fetcher Fetcher, ranker *Ranker, fuser *Fuser, synth *Synthesizer, verifier *Verifier, tele *telemetry.Telemetry, opts Options) *Orchestrator {
	return &Orchestrator{
		planner:   NewPlanner(),
		collector: collector,
		fetcher:   fetcher,
		ranker:    ranker,
		fuser:     fuser,
		synth:     synth,
		verifier:  verifier,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		opts:      opts.normalized(),
	}
}

// ErrEmptyQuery is the single fail-fast input error; everything past input
// validation degrades instead of failing.
var ErrEmptyQuery = fmt.Errorf("query must not be empty")

// Run executes one request end to end. sink may be nil. The only error ever
// returned is ErrEmptyQuery; every downstream failure degrades into the
// answer text instead.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink EventSink) (*Answer, error) {
	if strings.TrimSpace(req.Query) == "" {
		o.telemetry.RecordRequest("bad_request")
		return nil, ErrEmptyQuery
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.Budget)
	defer cancel()
	started := time.Now()

	emit(sink, Event{Name: "start", Data: map[string]interface{}{
		"query":  req.Query,
		"deep":   req.Deep,
		"rounds": o.opts.MaxRounds,
	}})

	plan := o.planner.Plan(req.Query)
	emit(sink, Event{Name: "stage", Data: map[string]interface{}{"stage": "planning", "tasks": len(plan)}})

	results := make([]taskResult, len(plan))
	var wg sync.WaitGroup
	for i, task := range plan {
		wg.Add(1)
		go func(i int, task SubTask) {
			defer wg.Done()
			results[i] = o.runTask(ctx, task, req, sink)
		}(i, task)
	}
	wg.Wait()

	answer := o.compose(plan, results)
	answer.LastFetched = time.Now().UTC()

	outcome := "ok"
	if len(answer.Sources) == 0 {
		outcome = "insufficient_content"
	}
	o.telemetry.RecordRequest(outcome)
	o.telemetry.ObserveStage("total", time.Since(started))
	emit(sink, Event{Name: "answer", Data: answer})
	return answer, nil
}

type taskResult struct {
	task         SubTask
	answer       string
	sources      []SourceRef
	images       []string
	verification *VerificationResult
	degraded     bool
}

// runTask executes the full pipeline for one sub-task. It never panics the
// request: any failure produces a degraded result.
func (o *Orchestrator) runTask(ctx context.Context, task SubTask, req Request, sink EventSink) (res taskResult) {
	res.task = task
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("task %s panicked: %v", task.ID, r)
			res = taskResult{task: task, degraded: true}
		}
	}()

	hits := o.collectRounds(ctx, task, req.MaxWeb, sink)
	if len(hits) == 0 {
		res.degraded = true
		return res
	}

	chunks := o.fetchAndChunk(ctx, task, hits, req.Fast, sink)
	if len(chunks) == 0 {
		res.degraded = true
		return res
	}

	o.stage(sink, task, "ranking")
	rankStart := time.Now()
	pool := o.opts.CandidatePool
	if req.Fast {
		pool = o.opts.FastCandidatePool
	}
	topK := o.opts.TopChunks
	if req.TopChunks > 0 {
		topK = req.TopChunks
	}
	if topK > o.opts.MaxTopChunks {
		topK = o.opts.MaxTopChunks
	}
	top := o.rank(ctx, task.Query, chunks, pool, topK, req.Fast)
	o.telemetry.ObserveStage("ranking", time.Since(rankStart))
	if o.opts.ChunkObserver != nil {
		o.opts.ChunkObserver(req, task, top)
	}

	fused := o.fuser.Fuse(ctx, task.Query, top, o.opts.Contradictions && !req.Fast)
	if len(fused.Facts) == 0 {
		res.degraded = true
		return res
	}

	o.stage(sink, task, "writing")
	synthRes, err := o.synth.Synthesize(ctx, task.Query, o.fuser.Render(fused), req.Deep, o.promptPolicy(req), fused.Sources)
	if err != nil {
		o.logger.Printf("task %s synthesis failed: %v", task.ID, err)
		res.degraded = true
		return res
	}

	if o.shouldVerify(req) {
		o.stage(sink, task, "verifying")
		v := o.verifier.Verify(ctx, task.Query, synthRes.Answer, o.fuser.Render(fused), synthRes.Sources)
		res.verification = &v
		if v.NeedsRetry && len(v.Refinements) > 0 {
			synthRes = o.retryOnce(ctx, task, req, v.Refinements[0], top, synthRes, sink)
		}
	}

	res.answer = synthRes.Answer
	res.sources = synthRes.Sources
	res.images = synthRes.Images
	return res
}

// collectRounds runs the bounded collection loop: each round rewrites the
// query, merges new hits, and stops early once confidence and source
// diversity both clear their thresholds or the time budget runs out.
func (o *Orchestrator) collectRounds(ctx context.Context, task SubTask, maxWeb int, sink EventSink) []Hit {
	var merged []Hit
	base := searchQuery(task)
	for round := 0; round < o.opts.MaxRounds; round++ {
		if ctx.Err() != nil {
			break
		}
		o.stage(sink, task, fmt.Sprintf("collect:%d", round))
		start := time.Now()
		merged = DeduplicateHits(append(merged, o.collector.Collect(ctx, RewriteQuery(base, round), maxWeb)...))
		o.telemetry.ObserveStage("collect", time.Since(start))

		emit(sink, Event{Name: "metrics", Data: map[string]interface{}{
			"task":    task.ID,
			"hits":    len(merged),
			"sources": hitCountsByType(merged),
		}})

		conf := CheckConfidence(merged, task.Query, o.opts.ConfidenceBoost)
		if conf >= o.opts.ConfidenceThreshold && SourceDiversity(merged) >= o.opts.MinSourceDiversity {
			break
		}
	}
	return merged
}

// fetchAndChunk pulls readable text for the leading hits with bounded
// concurrency and chunks it. Hits whose fetch fails (or that fall past the
// fetch limit) contribute a snippet chunk so their provenance survives.
func (o *Orchestrator) fetchAndChunk(ctx context.Context, task SubTask, hits []Hit, fast bool, sink EventSink) []Chunk {
	o.stage(sink, task, "reading")
	start := time.Now()
	defer func() { o.telemetry.ObserveStage("reading", time.Since(start)) }()

	limit := o.opts.FetchLimit
	if fast {
		limit = o.opts.FetchLimit / 2
		if limit < 1 {
			limit = 1
		}
	}
	if limit > len(hits) {
		limit = len(hits)
	}

	pages := make([]*Page, limit)
	sem := make(chan struct{}, o.opts.FetchConcurrency)
	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		if !strings.HasPrefix(hits[i].URL, "http") {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			fetchCtx := ctx
			if fast {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, o.opts.FastFetchTimeout)
				defer cancel()
			}
			page, err := o.fetcher.Fetch(fetchCtx, hits[i].URL)
			if err != nil || page == nil || strings.TrimSpace(page.Text) == "" {
				o.telemetry.RecordFetchFailure()
				return
			}
			o.telemetry.RecordPageFetched()
			pages[i] = page
		}(i)
	}
	wg.Wait()

	var chunks []Chunk
	for i, h := range hits {
		src := ChunkSource{Type: h.SourceType, URL: h.URL, Title: h.Title, Extra: h.Extra}
		if i < limit && pages[i] != nil {
			if src.Title == "" {
				src.Title = pages[i].Title
			}
			chunks = append(chunks, ChunkText(pages[i].Text, o.opts.ChunkMaxLen, src)...)
			continue
		}
		if c := ChunkFromHit(h); strings.TrimSpace(c.Text) != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// retryOnce runs the single bounded refinement pass: collect on the first
// refinement query, rank its chunks, merge with the original top chunks, and
// regenerate the answer against the merged context. The retry itself is
// never re-verified.
func (o *Orchestrator) retryOnce(ctx context.Context, task SubTask, req Request, refinement string, originalTop []ScoredChunk, original SynthesisResult, sink EventSink) SynthesisResult {
	o.telemetry.RecordVerifyRetry()
	o.logger.Printf("task %s retrying with refinement %q", task.ID, refinement)
	o.stage(sink, task, "retry")

	hits := o.collector.Collect(ctx, refinement, req.MaxWeb)
	if len(hits) == 0 {
		return original
	}
	chunks := o.fetchAndChunk(ctx, task, hits, req.Fast, sink)
	if len(chunks) == 0 {
		return original
	}
	extra := o.rank(ctx, task.Query, chunks, o.opts.CandidatePool, o.opts.TopChunks, req.Fast)
	merged := mergeScored(originalTop, extra, o.opts.MaxTopChunks)

	fused := o.fuser.Fuse(ctx, task.Query, merged, false)
	if len(fused.Facts) == 0 {
		return original
	}
	redone, err := o.synth.Synthesize(ctx, task.Query, o.fuser.Render(fused), req.Deep, o.promptPolicy(req), fused.Sources)
	if err != nil {
		o.logger.Printf("task %s retry synthesis failed, keeping original: %v", task.ID, err)
		return original
	}
	return redone
}

// rank dispatches to the cosine-only path for fast requests, skipping the
// optional cross-encoder pass.
func (o *Orchestrator) rank(ctx context.Context, query string, chunks []Chunk, pool, topK int, fast bool) []ScoredChunk {
	if fast {
		return o.ranker.RankCosine(ctx, query, chunks, pool, topK)
	}
	return o.ranker.Rank(ctx, query, chunks, pool, topK)
}

// mergeScored appends extra chunks not already present (by source URL plus
// chunk text) after the originals, capped at max.
func mergeScored(original, extra []ScoredChunk, max int) []ScoredChunk {
	seen := make(map[string]struct{}, len(original))
	key := func(sc ScoredChunk) string { return sc.Chunk.Source.URL + "\x00" + sc.Chunk.Text }
	out := make([]ScoredChunk, 0, len(original)+len(extra))
	for _, sc := range original {
		seen[key(sc)] = struct{}{}
		out = append(out, sc)
	}
	for _, sc := range extra {
		if _, dup := seen[key(sc)]; dup {
			continue
		}
		seen[key(sc)] = struct{}{}
		out = append(out, sc)
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// compose assembles the final answer. A single sub-task's result passes
// through untouched; multiple sub-tasks concatenate under per-task headings,
// each section keeping its own source list.
func (o *Orchestrator) compose(plan []SubTask, results []taskResult) *Answer {
	answer := &Answer{Plan: plan, Sources: []SourceRef{}, Images: []string{}}

	if len(results) == 1 {
		r := results[0]
		if r.degraded {
			answer.FormattedAnswer = insufficientContent
			return answer
		}
		answer.FormattedAnswer = r.answer
		answer.Sources = r.sources
		answer.Images = r.images
		answer.Verification = r.verification
		return answer
	}

	var b strings.Builder
	allDegraded := true
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", taskHeading(r.task))
		if r.degraded {
			b.WriteString(insufficientContent)
			continue
		}
		allDegraded = false
		b.WriteString(r.answer)
		if len(r.sources) > 0 {
			b.WriteString("\n\n**Sources**\n")
			for _, s := range r.sources {
				fmt.Fprintf(&b, "- [%s](%s)\n", sourceTitle(s), s.URL)
			}
		}
		answer.Sources = appendSourceRefs(answer.Sources, r.sources)
		answer.Images = appendImages(answer.Images, r.images, o.opts.MaxImages)
	}
	if allDegraded {
		answer.FormattedAnswer = insufficientContent
		answer.Sources = []SourceRef{}
		answer.Images = []string{}
		return answer
	}
	answer.FormattedAnswer = b.String()
	return answer
}

func (o *Orchestrator) promptPolicy(req Request) PromptPolicy {
	style := "concise"
	if req.Deep {
		style = "report"
	}
	return PromptPolicy{Style: style, RequireCites: true}
}

func (o *Orchestrator) shouldVerify(req Request) bool {
	if req.Verify != nil {
		return *req.Verify
	}
	return o.opts.VerifyByDefault && !req.Fast
}

func (o *Orchestrator) stage(sink EventSink, task SubTask, stage string) {
	emit(sink, Event{Name: "stage", Data: map[string]interface{}{"task": task.ID, "stage": stage}})
}

func emit(sink EventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}

// searchQuery renders the provider-facing query for a sub-task.
func searchQuery(task SubTask) string {
	switch task.Kind {
	case TaskNews:
		parts := []string{"latest news", task.Place}
		if task.Date != "" {
			parts = append(parts, task.Date)
		} else {
			if task.Month != "" {
				parts = append(parts, task.Month)
			}
			if task.Year != "" {
				parts = append(parts, task.Year)
			}
		}
		return strings.Join(parts, " ")
	case TaskTranscript:
		parts := []string{"full transcript", task.Title}
		if task.Year != "" && !strings.Contains(task.Title, task.Year) {
			parts = append(parts, task.Year)
		}
		return strings.Join(parts, " ")
	default:
		return task.Query
	}
}

func taskHeading(task SubTask) string {
	switch task.Kind {
	case TaskNews:
		return "News: " + titleCase(task.Place)
	case TaskTranscript:
		if task.Title != "" {
			return "Transcript: " + task.Title
		}
		return "Transcript"
	default:
		q := task.Query
		if len(q) > 80 {
			q = q[:80] + "..."
		}
		return q
	}
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.ToUpper(f[:1]) + f[1:]
	}
	return strings.Join(fields, " ")
}

func hitCountsByType(hits []Hit) map[string]int {
	out := make(map[string]int, 8)
	for _, h := range hits {
		out[string(h.SourceType)]++
	}
	return out
}

func appendSourceRefs(dst, src []SourceRef) []SourceRef {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s.URL] = struct{}{}
	}
	for _, s := range src {
		if _, dup := seen[s.URL]; dup {
			continue
		}
		seen[s.URL] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

func appendImages(dst, src []string, max int) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if len(dst) >= max {
			break
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

func sourceTitle(s SourceRef) string {
	if s.Title != "" {
		return s.Title
	}
	return s.URL
}
