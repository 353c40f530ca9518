package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubGenerator struct {
	out   string
	err   error
	calls int
	last  string
}

func (s *stubGenerator) Generate(_ context.Context, prompt, _ string, _ GenOptions) (string, error) {
	s.calls++
	s.last = prompt
	return s.out, s.err
}

const longSentA = "The agreement commits all signatory nations to cut emissions by forty percent before the decade closes."
const longSentB = "Renewable generation capacity doubled across the region between the last two reporting periods overall."
const longSentC = "Several member states have already exceeded their interim reduction targets ahead of the formal schedule."

func scoredChunk(id, url, title, text string) ScoredChunk {
	return ScoredChunk{Chunk: Chunk{
		ID:   id,
		Text: text,
		Source: ChunkSource{
			Type:  SourceWeb,
			URL:   url,
			Title: title,
		},
	}}
}

func TestFuseDedupsAcrossChunks(t *testing.T) {
	t.Parallel()
	f := NewFuser(nil, "", 3, 18)
	chunks := []ScoredChunk{
		scoredChunk("a", "https://one.example/a", "One", longSentA+" "+longSentB),
		scoredChunk("b", "https://two.example/b", "Two", longSentA),
	}
	fused := f.Fuse(context.Background(), "emissions", chunks, false)

	if len(fused.Facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(fused.Facts))
	}
	if len(fused.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(fused.Sources))
	}
	// the shared sentence must carry both source numbers
	var shared *FusedFact
	for i := range fused.Facts {
		if fused.Facts[i].Display == longSentA {
			shared = &fused.Facts[i]
		}
	}
	if shared == nil {
		t.Fatal("shared sentence missing from facts")
	}
	if len(shared.Support) != 2 || shared.Support[0] != 1 || shared.Support[1] != 2 {
		t.Fatalf("shared fact support = %v, want [1 2]", shared.Support)
	}
}

func TestFuseDedupIgnoresPunctuationAndCase(t *testing.T) {
	t.Parallel()
	f := NewFuser(nil, "", 3, 18)
	variant := strings.ToUpper(longSentA)
	chunks := []ScoredChunk{
		scoredChunk("a", "https://one.example", "One", longSentA),
		scoredChunk("b", "https://two.example", "Two", variant),
	}
	fused := f.Fuse(context.Background(), "q", chunks, false)
	if len(fused.Facts) != 1 {
		t.Fatalf("case variant not deduped: %d facts", len(fused.Facts))
	}
}

func TestFuseDropsShortSentences(t *testing.T) {
	t.Parallel()
	f := NewFuser(nil, "", 3, 18)
	chunks := []ScoredChunk{
		scoredChunk("a", "https://one.example", "One", "Too short. E.g. 1234. "+longSentA),
	}
	fused := f.Fuse(context.Background(), "q", chunks, false)
	if len(fused.Facts) != 1 || fused.Facts[0].Display != longSentA {
		t.Fatalf("short fragments survived: %+v", fused.Facts)
	}
}

func TestFuseKeepsDigitHeavySentences(t *testing.T) {
	t.Parallel()
	f := NewFuser(nil, "", 3, 18)
	statistical := "4,521 MW in 2024; 3,907 MW in 2023; 2,441 MW in 2022 totals."
	chunks := []ScoredChunk{
		scoredChunk("a", "https://one.example", "One", statistical),
	}
	fused := f.Fuse(context.Background(), "q", chunks, false)
	if len(fused.Facts) != 1 || fused.Facts[0].Display != statistical {
		t.Fatalf("digit-heavy sentence dropped: %+v", fused.Facts)
	}
}

func TestFuseRespectsPerChunkAndBulletCaps(t *testing.T) {
	t.Parallel()
	f := NewFuser(nil, "", 2, 3)
	chunks := []ScoredChunk{
		scoredChunk("a", "https://one.example", "One", longSentA+" "+longSentB+" "+longSentC),
		scoredChunk("b", "https://two.example", "Two",
			"An entirely different observation about grid storage deployments appeared in the quarterly review. "+
				"Battery installations alone accounted for most of the new flexible capacity added last winter season."),
	}
	fused := f.Fuse(context.Background(), "q", chunks, false)
	if len(fused.Facts) != 3 {
		t.Fatalf("got %d facts, want 3 (2 from first chunk, 1 before bullet cap)", len(fused.Facts))
	}
	// per-chunk cap keeps longSentC out
	for _, fact := range fused.Facts {
		if fact.Display == longSentC {
			t.Fatal("third sentence of first chunk should be cut by per-chunk cap")
		}
	}
}

func TestRenderFormatsBulletsAndSourceMap(t *testing.T) {
	t.Parallel()
	f := NewFuser(nil, "", 3, 18)
	chunks := []ScoredChunk{
		scoredChunk("a", "https://one.example/a", "Climate Report", longSentA),
	}
	fused := f.Fuse(context.Background(), "q", chunks, false)
	out := f.Render(fused)

	if !strings.Contains(out, "- "+longSentA+" [S1]") {
		t.Fatalf("bullet missing citation tag:\n%s", out)
	}
	if !strings.Contains(out, "[S1] Climate Report (web) https://one.example/a") {
		t.Fatalf("source map entry malformed:\n%s", out)
	}
	if strings.Contains(out, "CONTRADICTIONS") {
		t.Fatalf("contradiction section rendered for None:\n%s", out)
	}
}

func TestContradictionsFailureReportsNone(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{err: errors.New("model unavailable")}
	f := NewFuser(gen, "test-model", 3, 18)
	chunks := []ScoredChunk{
		scoredChunk("a", "https://one.example", "One", longSentA),
		scoredChunk("b", "https://two.example", "Two", longSentB),
	}
	fused := f.Fuse(context.Background(), "q", chunks, true)
	if fused.Contradictions != "None" {
		t.Fatalf("contradictions = %q, want None on failure", fused.Contradictions)
	}
	if gen.calls != 1 {
		t.Fatalf("generator called %d times, want 1", gen.calls)
	}
}

func TestContradictionsSkippedForSingleFact(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{out: "made up"}
	f := NewFuser(gen, "test-model", 3, 18)
	chunks := []ScoredChunk{scoredChunk("a", "https://one.example", "One", longSentA)}
	fused := f.Fuse(context.Background(), "q", chunks, true)
	if gen.calls != 0 {
		t.Fatal("generator should not run with fewer than two facts")
	}
	if fused.Contradictions != "None" {
		t.Fatalf("contradictions = %q, want None", fused.Contradictions)
	}
}
