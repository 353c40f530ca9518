// Package providers implements the generation and embedding backends behind
// the pipeline's Generator/Embedder/Reranker interfaces.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nkamali/faro/internal/pipeline"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAI talks to the OpenAI API or any compatible endpoint (set BaseURL).
type OpenAI struct {
	apiKey         string
	baseURL        string
	embeddingModel string
	client         *http.Client
}

func NewOpenAI(apiKey, baseURL, embeddingModel string, timeout time.Duration) *OpenAI {
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		embeddingModel: embeddingModel,
		client:         &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate implements pipeline.Generator.
func (o *OpenAI) Generate(ctx context.Context, prompt, model string, opts pipeline.GenOptions) (string, error) {
	body := map[string]interface{}{
		"model":       model,
		"messages":    []chatMessage{{Role: "user", Content: prompt}},
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := o.post(ctx, "/chat/completions", body, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("chat completion: empty response from %s", model)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed implements pipeline.Embedder against the configured embedding model.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := map[string]interface{}{
		"model": o.embeddingModel,
		"input": texts,
	}
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := o.post(ctx, "/embeddings", body, &resp); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (o *OpenAI) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
