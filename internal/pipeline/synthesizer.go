package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// ModelRouting names the model used for each query profile, plus a fallback
// tried once when the routed model errors.
type ModelRouting struct {
	Simple   string
	Deep     string
	Creative string
	Fallback string
}

// PromptPolicy carries the knobs the synthesis prompt is built from.
type PromptPolicy struct {
	Style          string // "concise" or "report"
	RequireCites   bool
	AllowSpeculate bool
}

var creativeCues = []string{"write a", "compose", "poem", "story", "imagine", "brainstorm", "slogan"}
var deepCues = []string{"explain", "compare", "analyze", "analysis", "why", "in depth", "detailed", "research", "history of", "implications"}

// classifyQuery picks the routing profile from surface cues. The deep flag
// from the caller always wins over the heuristics.
func classifyQuery(query string, deep bool) string {
	q := strings.ToLower(query)
	for _, cue := range creativeCues {
		if strings.Contains(q, cue) {
			return "creative"
		}
	}
	if deep {
		return "deep"
	}
	for _, cue := range deepCues {
		if strings.Contains(q, cue) {
			return "deep"
		}
	}
	if len(strings.Fields(q)) > 18 {
		return "deep"
	}
	return "simple"
}

// Synthesizer turns the fused context block into a cited markdown answer.
type Synthesizer struct {
	generator Generator
	routing   ModelRouting
	logger    *log.Logger
	maxImages int
}

func NewSynthesizer(generator Generator, routing ModelRouting, maxImages int) *Synthesizer {
	if maxImages <= 0 {
		maxImages = 6
	}
	return &Synthesizer{
		generator: generator,
		routing:   routing,
		logger:    log.New(log.Writer(), "[SYNTH] ", log.LstdFlags),
		maxImages: maxImages,
	}
}

// SynthesisResult is a rendered answer plus everything parsed back out of it.
type SynthesisResult struct {
	Answer  string
	Model   string
	Sources []SourceRef
	Images  []string
}

// Synthesize renders the answer for one subtask. The routed model is tried
// first; on error the fallback model gets exactly one attempt before the
// error propagates.
func (s *Synthesizer) Synthesize(ctx context.Context, query, contextBlock string, deep bool, policy PromptPolicy, fallbackSources []ChunkSource) (SynthesisResult, error) {
	profile := classifyQuery(query, deep)
	model := s.modelFor(profile)
	prompt := s.buildPrompt(query, contextBlock, profile, policy)
	opts := genOptionsFor(profile)

	answer, err := s.generator.Generate(ctx, prompt, model, opts)
	if err != nil && s.routing.Fallback != "" && s.routing.Fallback != model {
		s.logger.Printf("model %s failed (%v), retrying with %s", model, err, s.routing.Fallback)
		model = s.routing.Fallback
		answer, err = s.generator.Generate(ctx, prompt, model, opts)
	}
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("synthesis: %w", err)
	}
	answer = strings.TrimSpace(answer)
	return SynthesisResult{
		Answer:  answer,
		Model:   model,
		Sources: ExtractCitations(answer, fallbackSources),
		Images:  ExtractImages(answer, s.maxImages),
	}, nil
}

func (s *Synthesizer) modelFor(profile string) string {
	switch profile {
	case "creative":
		if s.routing.Creative != "" {
			return s.routing.Creative
		}
	case "deep":
		if s.routing.Deep != "" {
			return s.routing.Deep
		}
	}
	if s.routing.Simple != "" {
		return s.routing.Simple
	}
	return s.routing.Fallback
}

func genOptionsFor(profile string) GenOptions {
	switch profile {
	case "creative":
		return GenOptions{Temperature: 0.9, MaxTokens: 1200}
	case "deep":
		return GenOptions{Temperature: 0.3, MaxTokens: 2400}
	default:
		return GenOptions{Temperature: 0.2, MaxTokens: 900}
	}
}

func (s *Synthesizer) buildPrompt(query, contextBlock, profile string, policy PromptPolicy) string {
	var b strings.Builder
	b.WriteString("You answer questions using only the material below.\n\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nRules:\n")
	switch policy.Style {
	case "report":
		b.WriteString("- Write a structured markdown report with short sections.\n")
	default:
		b.WriteString("- Answer in concise markdown.\n")
	}
	if policy.RequireCites {
		b.WriteString("- Cite every claim with an inline markdown link to its source URL from the source map.\n")
		b.WriteString("- End with a Sources section listing each cited source as a markdown link.\n")
	}
	if !policy.AllowSpeculate {
		b.WriteString("- If the material does not answer the question, say so instead of guessing.\n")
	}
	if profile == "deep" {
		b.WriteString("- Cover disagreements between sources explicitly.\n")
	}
	return b.String()
}
