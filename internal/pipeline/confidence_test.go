package pipeline

import "testing"

func TestCheckConfidenceEmpty(t *testing.T) {
	t.Parallel()
	if got := CheckConfidence(nil, "anything", 1.25); got != 0 {
		t.Fatalf("expected 0 for empty hits, got %f", got)
	}
}

func TestCheckConfidenceBounds(t *testing.T) {
	t.Parallel()
	hits := []Hit{
		{Title: "go generics explained", Snippet: "all about go generics"},
		{Title: "go generics deep dive"},
		{Title: "unrelated"},
	}
	got := CheckConfidence(hits, "go generics", 1.25)
	if got < 0 || got > 1 {
		t.Fatalf("confidence out of bounds: %f", got)
	}
	// 2/3 * 1.25 = 0.8333...
	if got < 0.83 || got > 0.84 {
		t.Fatalf("unexpected confidence %f", got)
	}
}

func TestCheckConfidenceClamped(t *testing.T) {
	t.Parallel()
	hits := []Hit{
		{Title: "paris"},
		{Snippet: "paris is the capital"},
	}
	if got := CheckConfidence(hits, "paris", 1.25); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
}

func TestCheckConfidenceCaseInsensitive(t *testing.T) {
	t.Parallel()
	hits := []Hit{{Title: "The CAPITAL of France"}}
	if got := CheckConfidence(hits, "capital of france", 1.25); got != 1 {
		t.Fatalf("expected case-insensitive match, got %f", got)
	}
}

func TestSourceDiversity(t *testing.T) {
	t.Parallel()
	hits := []Hit{
		{SourceType: SourceWeb},
		{SourceType: SourceWeb},
		{SourceType: SourceWiki},
		{SourceType: SourceReddit},
	}
	if got := SourceDiversity(hits); got != 3 {
		t.Fatalf("expected diversity 3, got %d", got)
	}
	if got := SourceDiversity(nil); got != 0 {
		t.Fatalf("expected 0 for empty, got %d", got)
	}
}
