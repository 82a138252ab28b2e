package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/config"
)

// httpEmbedder calls an OpenAI-compatible embeddings endpoint. Anthropic has
// no native embeddings API, so task/ticket embedding (spec §4.3) goes
// through this separate, equally swappable HTTP backend rather than a
// hand-rolled hashing scheme.
type httpEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// newHTTPEmbedder builds an embedder from a provider config entry whose
// EmbeddingModel field names the model to call.
func newHTTPEmbedder(cfg *config.LLMProviderConfig, apiKey string) *httpEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &httpEmbedder{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *httpEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embeddingsRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshaling embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("building embeddings request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling embeddings endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embeddings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embeddings endpoint returned no data")
	}
	return parsed.Data[0].Embedding, nil
}

// NewAnthropicClientFromProvider wires an AnthropicClient together with its
// HTTP embedding backend from a single provider config entry. embeddingKey
// may equal apiKey when the same provider account serves both, or name a
// distinct key for a dedicated embeddings account.
func NewAnthropicClientFromProvider(cfg *config.LLMProviderConfig, apiKey, embeddingKey string) *AnthropicClient {
	return NewAnthropicClient(cfg, apiKey, newHTTPEmbedder(cfg, embeddingKey))
}
