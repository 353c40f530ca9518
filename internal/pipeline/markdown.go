package pipeline

import (
	"regexp"
	"strings"

	"github.com/nkamali/faro/internal/helpers"
)

var (
	mdLinkRe  = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	mdImageRe = regexp.MustCompile(`!\[([^\]]*)\]\((https?://[^)\s]+)\)`)
	bareURLRe = regexp.MustCompile(`https?://\S+`)
)

// ExtractCitations pulls source references out of a rendered answer: inline
// markdown links first, then "Title - URL" style reference lines. When the
// answer cites nothing, the URLs of the chunks that fed it stand in, so an
// answer is never returned without a source list.
func ExtractCitations(answer string, fallback []ChunkSource) []SourceRef {
	var refs []SourceRef
	seen := make(map[string]struct{})

	add := func(title, url string) {
		url = strings.TrimRight(url, ".,;:")
		key := helpers.NormalizeURL(url)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, SourceRef{Title: strings.TrimSpace(title), URL: url})
	}

	for _, m := range mdImageRe.FindAllString(answer, -1) {
		// strip images so their URLs do not count as citations
		answer = strings.Replace(answer, m, "", 1)
	}
	for _, m := range mdLinkRe.FindAllStringSubmatch(answer, -1) {
		add(m[1], m[2])
	}
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if mdLinkRe.MatchString(line) {
			continue
		}
		url := bareURLRe.FindString(line)
		if url == "" {
			continue
		}
		title := strings.TrimSpace(strings.TrimRight(strings.Replace(line, url, "", 1), " -:–—"))
		add(title, url)
	}

	if len(refs) == 0 {
		for _, src := range fallback {
			add(src.Title, src.URL)
		}
	}
	return refs
}

// ExtractImages collects markdown image URLs in document order, capped at max.
func ExtractImages(answer string, max int) []string {
	if max <= 0 {
		max = 6
	}
	var out []string
	seen := make(map[string]struct{})
	for _, m := range mdImageRe.FindAllStringSubmatch(answer, -1) {
		url := m[2]
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
		if len(out) >= max {
			break
		}
	}
	return out
}
