package services

import (
	"context"
	"fmt"

	"github/itish2003/pdfrag/models"
	"github/itish2003/pdfrag/vectorstore"
)

// VectorIndex is the slice of vectorstore.Index the chat path depends on.
type VectorIndex interface {
	Query(ctx context.Context, text string, k int) ([]vectorstore.Match, error)
}

// Retriever fetches the k most similar chunks for a question. Every call
// embeds the question afresh.
type Retriever struct {
	index VectorIndex
}

func NewRetriever(index VectorIndex) *Retriever {
	return &Retriever{index: index}
}

func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]models.RetrievalResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", models.ErrValidation, k)
	}
	matches, err := r.index.Query(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector index: %w", err)
	}
	results := make([]models.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, models.RetrievalResult{
			Chunk: m.Entry.Chunk(),
			Score: m.Score,
		})
	}
	return results, nil
}
