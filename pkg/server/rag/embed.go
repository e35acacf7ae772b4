package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const embedBatchSize = 16

// JinaEmbedder requests embeddings from Jina's OpenAI-compatible endpoint.
type JinaEmbedder struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewJinaEmbedder(apiKey, apiURL, model string, logger *slog.Logger) *JinaEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &JinaEmbedder{
		apiKey:     apiKey,
		apiURL:     apiURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *JinaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := e.embedBatch(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *JinaEmbedder) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	payload, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return fmt.Errorf("encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return fmt.Errorf("embedding API returned %d vectors for %d inputs", len(decoded.Data), len(texts))
	}
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return fmt.Errorf("embedding API returned out-of-range index %d", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return nil
}

// HashEmbedder maps texts to deterministic bag-of-words vectors. It stands in
// when no embedding key is configured, the same way the echo streamer stands
// in for a chat provider; retrieval degrades to token overlap.
type HashEmbedder struct {
	// Dim is the vector dimension; 0 selects a default.
	Dim int
}

func (h HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 256
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dim)
		for _, token := range strings.Fields(strings.ToLower(text)) {
			hasher := fnv.New32a()
			_, _ = hasher.Write([]byte(token))
			vec[hasher.Sum32()%uint32(dim)]++
		}
		out[i] = vec
	}
	return out, nil
}
