// Package knowledge ranks per-category knowledge corpora against a query by
// embedding similarity and rebuilds corpora from chat history.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/gemini"
)

// embedBatchSize is the largest batch the embedding endpoint accepts.
const embedBatchSize = 100

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

// CorpusStore is the slice of the message store the engine needs.
type CorpusStore interface {
	LoadKnowledge(ctx context.Context, category string) ([]*database.KnowledgeChunk, error)
	ReplaceKnowledge(ctx context.Context, category string, chunks []*database.KnowledgeChunk) error
}

// Result is one ranked passage.
type Result struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// Engine serves similarity search over lazily loaded corpora.
type Engine struct {
	store     CorpusStore
	embedder  Embedder
	logger    *slog.Logger
	topK      int
	chunkSize int

	corpora *lru.Cache[string, []*database.KnowledgeChunk]
	loads   singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

// NewEngine creates an engine holding at most cacheSize corpora in memory.
func NewEngine(store CorpusStore, embedder Embedder, topK, cacheSize, chunkSize int, logger *slog.Logger) (*Engine, error) {
	corpora, err := lru.New[string, []*database.KnowledgeChunk](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create corpus cache: %w", err)
	}
	if topK < 1 {
		topK = 3
	}
	return &Engine{
		store:       store,
		embedder:    embedder,
		logger:      logger.With("component", "knowledge"),
		topK:        topK,
		chunkSize:   chunkSize,
		corpora:     corpora,
		generations: make(map[string]uint64),
	}, nil
}

// Search returns up to K passages of category ranked by cosine similarity to
// query. A missing or empty corpus yields no results and no embedding call.
func (e *Engine) Search(ctx context.Context, query, category string) ([]Result, error) {
	corpus, err := e.corpus(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		e.logger.DebugContext(ctx, "Empty corpus, skipping search", "category", category)
		return nil, nil
	}

	vectors, err := e.embedder.Embed(ctx, []string{query}, gemini.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query for %s: %w", category, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for %s query", category)
	}

	results := Rank(vectors[0], corpus, e.topK)
	e.logger.DebugContext(ctx, "Knowledge search done", "category", category, "corpus_size", len(corpus), "results", len(results))
	return results, nil
}

// Invalidate drops the cached corpus of category. A load already in flight
// will not repopulate the cache.
func (e *Engine) Invalidate(category string) {
	e.mu.Lock()
	e.generations[category]++
	e.mu.Unlock()
	e.corpora.Remove(category)
}

// Bootstrap chunks and embeds text, replaces the corpus of category with it
// and invalidates the cached copy. It returns the number of chunks stored.
func (e *Engine) Bootstrap(ctx context.Context, category, source, text string) (int, error) {
	chunks := Chunk(text, e.chunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}

	records := make([]*database.KnowledgeChunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		vectors, err := e.embedder.Embed(ctx, chunks[start:end], gemini.TaskRetrievalDocument)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks for %s: %w", category, err)
		}
		if len(vectors) != end-start {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), end-start)
		}
		for i, v := range vectors {
			records = append(records, &database.KnowledgeChunk{
				Category:  category,
				Content:   chunks[start+i],
				Source:    source,
				Embedding: v,
			})
		}
	}

	if err := e.store.ReplaceKnowledge(ctx, category, records); err != nil {
		return 0, err
	}
	e.Invalidate(category)

	e.logger.InfoContext(ctx, "Knowledge corpus rebuilt", "category", category, "chunks", len(records), "source", source)
	return len(records), nil
}

func (e *Engine) corpus(ctx context.Context, category string) ([]*database.KnowledgeChunk, error) {
	if corpus, ok := e.corpora.Get(category); ok {
		return corpus, nil
	}

	e.mu.Lock()
	gen := e.generations[category]
	e.mu.Unlock()

	v, err, _ := e.loads.Do(category, func() (any, error) {
		corpus, err := e.store.LoadKnowledge(ctx, category)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		current := e.generations[category] == gen
		e.mu.Unlock()
		if current {
			e.corpora.Add(category, corpus)
		}
		e.logger.DebugContext(ctx, "Corpus loaded", "category", category, "chunks", len(corpus))
		return corpus, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus %s: %w", category, err)
	}
	return v.([]*database.KnowledgeChunk), nil
}

// Rank scores every chunk against query and returns the best k, ties kept
// in corpus order. Chunks whose dimension differs from the query are skipped.
func Rank(query []float32, corpus []*database.KnowledgeChunk, k int) []Result {
	results := make([]Result, 0, len(corpus))
	for _, chunk := range corpus {
		if len(chunk.Embedding) != len(query) {
			continue
		}
		results = append(results, Result{
			Content:    chunk.Content,
			Source:     chunk.Source,
			Similarity: Cosine(query, chunk.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
