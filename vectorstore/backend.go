// Package vectorstore holds the persisted vector index. The index is a series
// of generations; rebuilds fill a fresh staging generation and swap it in
// whole, so readers never observe a half-written corpus.
package vectorstore

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github/itish2003/pdfrag/models"
)

// Entry is one stored chunk: its id, embedding, text and metadata. Seq is the
// insertion sequence inside its generation and breaks score ties.
type Entry struct {
	ChunkID   string            `json:"id"`
	Embedding []float32         `json:"embedding"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
	Seq       uint64            `json:"seq"`
}

// Match is an entry scored against a query vector.
type Match struct {
	Entry Entry
	Score float64
}

// Generation is one self-contained snapshot of the index.
type Generation interface {
	Name() string
	// Upsert writes entries keyed by ChunkID. New ids get the next sequence
	// number; replaced ids keep the one they had.
	Upsert(ctx context.Context, entries []Entry) error
	// Search returns the k best entries by score, ties in insertion order.
	// Chroma ranks a bounded window of nearest neighbours locally, so a tie
	// spanning more entries than that window is ordered by Chroma instead.
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Entries(ctx context.Context) ([]Entry, error)
}

// Backend creates, opens and drops generations.
type Backend interface {
	Create(ctx context.Context, name string) (Generation, error)
	Open(ctx context.Context, name string) (Generation, error)
	Drop(ctx context.Context, name string) error
	// List returns the names of every stored generation.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EntryFromChunk builds an index entry for a chunk and its embedding.
func EntryFromChunk(c models.Chunk, embedding []float32) Entry {
	return Entry{
		ChunkID:   c.ID,
		Embedding: embedding,
		Text:      c.Text,
		Metadata: map[string]string{
			models.MetaSource:     c.SourcePath,
			models.MetaFileName:   c.FileName,
			models.MetaPage:       strconv.Itoa(c.Page),
			models.MetaChunkIndex: strconv.Itoa(c.SequenceIndex),
		},
	}
}

// Chunk rebuilds the chunk an entry was created from.
func (e Entry) Chunk() models.Chunk {
	page, _ := strconv.Atoi(e.Metadata[models.MetaPage])
	idx, _ := strconv.Atoi(e.Metadata[models.MetaChunkIndex])
	return models.Chunk{
		ID:            e.ChunkID,
		Text:          e.Text,
		SourcePath:    e.Metadata[models.MetaSource],
		FileName:      e.Metadata[models.MetaFileName],
		Page:          page,
		SequenceIndex: idx,
	}
}

// rankMatches orders by score descending, then by insertion sequence, and
// keeps the first k.
func rankMatches(matches []Match, k int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.Seq < matches[j].Entry.Seq
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
