package pipeline

import "testing"

func TestExtractCitationsInlineLinks(t *testing.T) {
	t.Parallel()
	answer := "Emissions fell sharply [IEA Report](https://iea.example/report) last year.\n" +
		"See also [UN analysis](https://un.example/analysis)."
	refs := ExtractCitations(answer, nil)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2: %+v", len(refs), refs)
	}
	if refs[0].Title != "IEA Report" || refs[0].URL != "https://iea.example/report" {
		t.Fatalf("first ref wrong: %+v", refs[0])
	}
}

func TestExtractCitationsReferenceLines(t *testing.T) {
	t.Parallel()
	answer := "Summary text here.\n\nSources:\n" +
		"- Global Energy Outlook - https://iea.example/outlook\n" +
		"2. Policy Brief - https://un.example/brief\n"
	refs := ExtractCitations(answer, nil)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2: %+v", len(refs), refs)
	}
	if refs[0].Title != "Global Energy Outlook" {
		t.Fatalf("title not cleaned: %q", refs[0].Title)
	}
	if refs[1].URL != "https://un.example/brief" {
		t.Fatalf("second URL wrong: %q", refs[1].URL)
	}
}

func TestExtractCitationsDedupsByNormalizedURL(t *testing.T) {
	t.Parallel()
	answer := "[A](https://example.com/p?utm_source=x) and [B](https://EXAMPLE.com/p)"
	refs := ExtractCitations(answer, nil)
	if len(refs) != 1 {
		t.Fatalf("tracking-param variant not deduped: %+v", refs)
	}
}

func TestExtractCitationsFallsBackToChunkSources(t *testing.T) {
	t.Parallel()
	fallback := []ChunkSource{
		{Type: SourceWeb, URL: "https://one.example/a", Title: "One"},
		{Type: SourceWiki, URL: "https://two.example/b", Title: "Two"},
	}
	refs := ExtractCitations("An answer with no links at all.", fallback)
	if len(refs) != 2 {
		t.Fatalf("fallback not applied: %+v", refs)
	}
	if refs[0].Title != "One" || refs[1].Title != "Two" {
		t.Fatalf("fallback titles wrong: %+v", refs)
	}
}

func TestExtractCitationsIgnoresImages(t *testing.T) {
	t.Parallel()
	answer := "![chart](https://img.example/chart.png)\nNo other links."
	refs := ExtractCitations(answer, nil)
	if len(refs) != 0 {
		t.Fatalf("image URL counted as citation: %+v", refs)
	}
}

func TestExtractImages(t *testing.T) {
	t.Parallel()
	answer := "![a](https://img.example/1.png) text ![b](https://img.example/2.png) " +
		"![a again](https://img.example/1.png)"
	imgs := ExtractImages(answer, 6)
	if len(imgs) != 2 {
		t.Fatalf("got %d images, want 2 after dedup: %v", len(imgs), imgs)
	}
	if imgs[0] != "https://img.example/1.png" {
		t.Fatalf("order not preserved: %v", imgs)
	}
}

func TestExtractImagesCap(t *testing.T) {
	t.Parallel()
	answer := "![1](https://i.example/1.png)![2](https://i.example/2.png)![3](https://i.example/3.png)"
	imgs := ExtractImages(answer, 2)
	if len(imgs) != 2 {
		t.Fatalf("cap not applied: %v", imgs)
	}
}
