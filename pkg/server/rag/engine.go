// Package rag indexes uploaded documents and retrieves the chunks most
// similar to a query. Chunks are embedded once at ingest; search is a
// normalized dot product over the enabled portion of the index.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Chunking geometry, in words.
const (
	chunkSizeWords    = 800
	chunkOverlapWords = 150
)

// ErrDocumentNotFound is returned for operations on unknown document ids.
var ErrDocumentNotFound = errors.New("document not found")

// ErrInvalidDocument marks ingest rejections the caller should surface as a
// bad request: empty files, unsupported types, oversized uploads, documents
// with no extractable text.
var ErrInvalidDocument = errors.New("invalid document")

// Document is the per-upload metadata returned by ingest and list.
type Document struct {
	ID         string    `json:"doc_id"`
	Filename   string    `json:"filename"`
	Chunks     int       `json:"chunks"`
	UploadedAt time.Time `json:"uploaded_at"`
	Enabled    bool      `json:"enabled"`
}

// Chunk is one retrieved piece of a document with its similarity score.
type Chunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocID      string  `json:"doc_id"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// Embedder turns texts into vectors. Implementations must return one vector
// per input text, all of the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type indexedChunk struct {
	Chunk
	vector []float32
}

// Engine is the in-memory document index. State lives for the process; a
// restart starts from an empty index, matching the in-memory session store
// default.
type Engine struct {
	embedder    Embedder
	logger      *slog.Logger
	maxDocBytes int64
	maxDocs     int

	mu        sync.Mutex
	dimension int
	docs      map[string]Document
	chunks    []indexedChunk
}

func NewEngine(embedder Embedder, maxDocBytes int64, maxDocs int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder:    embedder,
		logger:      logger,
		maxDocBytes: maxDocBytes,
		maxDocs:     maxDocs,
		docs:        make(map[string]Document),
	}
}

// Ingest extracts, chunks, and embeds one uploaded file and adds it to the
// index. The returned document carries the generated id.
func (e *Engine) Ingest(ctx context.Context, filename string, content []byte) (Document, error) {
	if len(content) == 0 {
		return Document{}, fmt.Errorf("%w: empty file", ErrInvalidDocument)
	}
	if e.maxDocBytes > 0 && int64(len(content)) > e.maxDocBytes {
		return Document{}, fmt.Errorf("%w: document exceeds size limit", ErrInvalidDocument)
	}

	text, err := extractText(filename, content)
	if err != nil {
		return Document{}, err
	}
	pieces := chunkText(text, chunkSizeWords, chunkOverlapWords)
	if len(pieces) == 0 {
		return Document{}, fmt.Errorf("%w: no text content extracted from document", ErrInvalidDocument)
	}

	vectors, err := e.embedder.Embed(ctx, pieces)
	if err != nil {
		return Document{}, fmt.Errorf("embed document: %w", err)
	}
	if len(vectors) != len(pieces) {
		return Document{}, fmt.Errorf("embed document: got %d vectors for %d chunks", len(vectors), len(pieces))
	}
	for i := range vectors {
		normalize(vectors[i])
	}

	doc := Document{
		ID:         uuid.NewString(),
		Filename:   filename,
		Chunks:     len(pieces),
		UploadedAt: time.Now().UTC(),
		Enabled:    true,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maxDocs > 0 && len(e.docs) >= e.maxDocs {
		return Document{}, fmt.Errorf("%w: document limit reached", ErrInvalidDocument)
	}
	if e.dimension == 0 {
		e.dimension = len(vectors[0])
	} else if e.dimension != len(vectors[0]) {
		return Document{}, fmt.Errorf("embed document: dimension %d does not match index dimension %d", len(vectors[0]), e.dimension)
	}
	for i, piece := range pieces {
		e.chunks = append(e.chunks, indexedChunk{
			Chunk: Chunk{
				ChunkID:    uuid.NewString(),
				DocID:      doc.ID,
				Filename:   filename,
				Text:       piece,
				ChunkIndex: i,
			},
			vector: vectors[i],
		})
	}
	e.docs[doc.ID] = doc

	e.logger.Info("document indexed", "doc_id", doc.ID, "filename", filename, "chunks", doc.Chunks)
	return doc, nil
}

// List returns all documents, oldest upload first.
func (e *Engine) List() []Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Document, 0, len(e.docs))
	for _, doc := range e.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out
}

// SetEnabled includes or excludes a document from retrieval without dropping
// its chunks.
func (e *Engine) SetEnabled(id string, enabled bool) (Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc, ok := e.docs[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	doc.Enabled = enabled
	e.docs[id] = doc
	return doc, nil
}

// Delete removes a document and its chunks from the index.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.docs[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(e.docs, id)
	kept := e.chunks[:0]
	for _, chunk := range e.chunks {
		if chunk.DocID != id {
			kept = append(kept, chunk)
		}
	}
	e.chunks = kept
	return nil
}

// Query embeds the query and returns the topK most similar chunks from
// enabled documents, best first.
func (e *Engine) Query(ctx context.Context, query string, topK int) ([]Chunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidDocument)
	}
	if topK <= 0 {
		topK = 5
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, errors.New("embed query: empty embedding")
	}
	qv := vectors[0]
	normalize(qv)

	e.mu.Lock()
	scored := make([]Chunk, 0, len(e.chunks))
	for _, chunk := range e.chunks {
		doc, ok := e.docs[chunk.DocID]
		if !ok || !doc.Enabled {
			continue
		}
		if len(chunk.vector) != len(qv) {
			continue
		}
		result := chunk.Chunk
		result.Score = dot(chunk.vector, qv)
		scored = append(scored, result)
	}
	e.mu.Unlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// chunkText splits text into word windows of size words with overlap words
// shared between neighbors.
func chunkText(text string, size, overlap int) []string {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	start := 0
	for start < len(words) {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
