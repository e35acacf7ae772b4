package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func TestJinaEmbedderBatchesAndOrders(t *testing.T) {
	t.Parallel()

	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("Model = %q, want test-model", req.Model)
		}
		batchSizes = append(batchSizes, len(req.Input))

		// Answer in reverse order; the client must reassemble by index.
		var resp embeddingResponse
		for i := len(req.Input) - 1; i >= 0; i-- {
			n, _ := strconv.Atoi(req.Input[i])
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(n)}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	embedder := NewJinaEmbedder("key", server.URL, "test-model", testLogger())

	texts := make([]string, embedBatchSize+3)
	for i := range texts {
		texts[i] = fmt.Sprintf("%d", i)
	}
	vectors, err := embedder.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("vectors = %d, want %d", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) != 1 || int(vec[0]) != i {
			t.Fatalf("vectors[%d] = %v, want [%d]", i, vec, i)
		}
	}
	if len(batchSizes) != 2 || batchSizes[0] != embedBatchSize || batchSizes[1] != 3 {
		t.Fatalf("batch sizes = %v, want [%d 3]", batchSizes, embedBatchSize)
	}
}

func TestJinaEmbedderSurfacesAPIErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusPaymentRequired)
	}))
	t.Cleanup(server.Close)

	embedder := NewJinaEmbedder("key", server.URL, "test-model", testLogger())
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected an error from a non-200 response")
	}
	if !strings.Contains(err.Error(), "402") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v, want the status and body excerpt", err)
	}
}

func TestJinaEmbedderRejectsShortResponses(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse{})
	}))
	t.Cleanup(server.Close)

	embedder := NewJinaEmbedder("key", server.URL, "test-model", testLogger())
	if _, err := embedder.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected an error when the API returns fewer vectors than inputs")
	}
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	t.Parallel()

	embedder := HashEmbedder{}
	first, err := embedder.Embed(context.Background(), []string{"Apples and pears"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, _ := embedder.Embed(context.Background(), []string{"apples AND pears"})
	if len(first[0]) != 256 {
		t.Fatalf("dimension = %d, want the default 256", len(first[0]))
	}
	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("case-folded texts produced different vectors at %d", i)
		}
	}
}
