package pipeline

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var sentenceSplitRe = regexp.MustCompile(`(?m)([.!?])\s+`)

// splitSentences breaks text on terminal punctuation followed by whitespace.
// Abbreviations ("e.g.", "U.S.") over-split; downstream length filters drop
// the resulting fragments, so the simple rule is good enough.
func splitSentences(text string) []string {
	marked := sentenceSplitRe.ReplaceAllString(text, "$1\n")
	parts := strings.Split(marked, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeFactKey collapses a sentence to lowercase alphanumerics so that
// the same claim phrased with different punctuation or spacing dedups.
func normalizeFactKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func substantiveSentence(s string) bool {
	if len(s) < 40 {
		return false
	}
	substantive := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			substantive++
		}
	}
	return substantive >= 20
}

// Fuser merges ranked chunks into deduplicated, citation-tagged facts and
// renders them as a bulleted context block. Contradiction detection is a
// best-effort LLM pass; any failure reports "None".
type Fuser struct {
	generator Generator
	model     string
	logger    *log.Logger

	sentencesPerChunk int
	maxBullets        int
}

func NewFuser(generator Generator, model string, sentencesPerChunk, maxBullets int) *Fuser {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 3
	}
	if maxBullets <= 0 {
		maxBullets = 18
	}
	return &Fuser{
		generator:         generator,
		model:             model,
		logger:            log.New(log.Writer(), "[FUSE] ", log.LstdFlags),
		sentencesPerChunk: sentencesPerChunk,
		maxBullets:        maxBullets,
	}
}

// Fused is the fusion output handed to the synthesizer.
type Fused struct {
	Facts          []FusedFact
	Sources        []ChunkSource
	Contradictions string
}

// Fuse extracts substantive sentences from the scored chunks in rank order,
// dedups them across chunks, and assigns each surviving fact the source
// indices that support it. Sources are numbered 1-based in first-seen order.
func (f *Fuser) Fuse(ctx context.Context, query string, chunks []ScoredChunk, detectContradictions bool) Fused {
	var fused Fused
	sourceIdx := make(map[string]int) // normalized URL -> 1-based source number
	factIdx := make(map[string]int)   // normalized sentence -> index into Facts

	for _, sc := range chunks {
		srcNum, ok := sourceIdx[sc.Chunk.Source.URL]
		if !ok {
			fused.Sources = append(fused.Sources, sc.Chunk.Source)
			srcNum = len(fused.Sources)
			sourceIdx[sc.Chunk.Source.URL] = srcNum
		}
		taken := 0
		for _, sent := range splitSentences(sc.Chunk.Text) {
			if taken >= f.sentencesPerChunk {
				break
			}
			if !substantiveSentence(sent) {
				continue
			}
			key := normalizeFactKey(sent)
			if key == "" {
				continue
			}
			if i, dup := factIdx[key]; dup {
				fused.Facts[i].Support = appendSupport(fused.Facts[i].Support, srcNum)
				continue
			}
			if len(fused.Facts) >= f.maxBullets {
				continue
			}
			factIdx[key] = len(fused.Facts)
			fused.Facts = append(fused.Facts, FusedFact{
				Key:     key,
				Display: sent,
				Support: []int{srcNum},
			})
			taken++
		}
	}

	fused.Contradictions = "None"
	if detectContradictions && f.generator != nil && len(fused.Facts) >= 2 {
		fused.Contradictions = f.detectContradictions(ctx, query, fused.Facts)
	}
	return fused
}

func appendSupport(support []int, n int) []int {
	for _, s := range support {
		if s == n {
			return support
		}
	}
	support = append(support, n)
	sort.Ints(support)
	return support
}

// Render produces the context block fed to the synthesizer: one bullet per
// fact with its supporting citations, followed by a numbered source map.
func (f *Fuser) Render(fused Fused) string {
	var b strings.Builder
	b.WriteString("FACTS:\n")
	for _, fact := range fused.Facts {
		tags := make([]string, len(fact.Support))
		for i, s := range fact.Support {
			tags[i] = fmt.Sprintf("S%d", s)
		}
		fmt.Fprintf(&b, "- %s [%s]\n", fact.Display, strings.Join(tags, ", "))
	}
	b.WriteString("\nSOURCES:\n")
	for i, src := range fused.Sources {
		fmt.Fprintf(&b, "[S%d] %s (%s) %s\n", i+1, sourceLabel(src), src.Type, src.URL)
	}
	if fused.Contradictions != "" && fused.Contradictions != "None" {
		b.WriteString("\nCONTRADICTIONS:\n")
		b.WriteString(fused.Contradictions)
		b.WriteString("\n")
	}
	return b.String()
}

func sourceLabel(src ChunkSource) string {
	if src.Title != "" {
		return src.Title
	}
	return src.URL
}

func (f *Fuser) detectContradictions(ctx context.Context, query string, facts []FusedFact) string {
	var b strings.Builder
	b.WriteString("You check a fact list for internal contradictions.\n")
	b.WriteString("Query: " + query + "\n\nFacts:\n")
	for _, fact := range facts {
		b.WriteString("- " + fact.Display + "\n")
	}
	b.WriteString("\nList contradictory pairs, one per line. If none, answer exactly: None")

	out, err := f.generator.Generate(ctx, b.String(), f.model, GenOptions{Temperature: 0, MaxTokens: 400})
	if err != nil {
		f.logger.Printf("contradiction check failed: %v", err)
		return "None"
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "None"
	}
	return out
}
