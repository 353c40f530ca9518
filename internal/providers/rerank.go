package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nkamali/faro/internal/pipeline"
)

// CrossEncoder calls an external rerank endpoint (Cohere-compatible shape:
// query + documents in, indexed relevance scores out).
type CrossEncoder struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewCrossEncoder(apiKey, baseURL, model string, timeout time.Duration) *CrossEncoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CrossEncoder{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Rerank implements pipeline.Reranker.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, documents []string, topN int) ([]pipeline.RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}
	body := map[string]interface{}{
		"model":     c.model,
		"query":     query,
		"documents": documents,
		"top_n":     topN,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank: %s: %s", resp.Status, string(b))
	}
	var parsed struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]pipeline.RerankResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, pipeline.RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return out, nil
}
