package pipeline

import (
	"strings"

	"github.com/google/uuid"
)

// ChunkText splits raw document text into bounded chunks. Paragraphs
// (blank-line separated) are accumulated greedily: whenever appending the
// next paragraph would exceed maxLen, the buffer is flushed as one chunk.
// Paragraph order is preserved and whitespace-only paragraphs are dropped.
//
// A single paragraph longer than maxLen becomes its own oversized chunk;
// it is not split further. Known limitation, kept deliberately.
func ChunkText(text string, maxLen int, src ChunkSource) []Chunk {
	if maxLen <= 0 {
		maxLen = 1500
	}
	var chunks []Chunk
	var buf strings.Builder

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			ID:     uuid.NewString(),
			Text:   buf.String(),
			Source: src,
		})
		buf.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+2+len(para) > maxLen {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		if buf.Len() > maxLen {
			// lone oversized paragraph
			flush()
		}
	}
	flush()
	return chunks
}

// ChunkFromHit wraps a short hit (tweet, reddit post, video description)
// directly as a single chunk without chunking.
func ChunkFromHit(h Hit) Chunk {
	text := strings.TrimSpace(h.Snippet)
	if text == "" {
		text = strings.TrimSpace(h.Title)
	}
	return Chunk{
		ID:   uuid.NewString(),
		Text: text,
		Source: ChunkSource{
			Type:  h.SourceType,
			URL:   h.URL,
			Title: h.Title,
			Extra: h.Extra,
		},
	}
}
