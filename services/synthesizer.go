package services

import (
	"context"

	"github/itish2003/pdfrag/models"
)

// snippetRunes caps the excerpt stored with each source.
const snippetRunes = 500

// Synthesizer turns a prompt into an AnswerResult.
type Synthesizer struct {
	llm LanguageModel
}

func NewSynthesizer(llm LanguageModel) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Synthesize asks the model for an answer. Sources always come from the
// retrieved chunks, never from the model.
func (s *Synthesizer) Synthesize(ctx context.Context, prompt string, structured bool, results []models.RetrievalResult) (models.AnswerResult, error) {
	sources := SourcesFromResults(results)
	if structured {
		out, err := s.llm.GenerateStructured(ctx, prompt)
		if err != nil {
			return models.AnswerResult{}, err
		}
		return models.AnswerResult{
			Kind:          models.AnswerStructured,
			Text:          out.Answer,
			QuotedSources: out.Sources,
			Reasoning:     out.Reasoning,
			Sources:       sources,
		}, nil
	}

	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return models.AnswerResult{}, err
	}
	return models.AnswerResult{
		Kind:    models.AnswerPlain,
		Text:    text,
		Sources: sources,
	}, nil
}

// SourcesFromResults builds one SourceRef per retrieved chunk, in rank order.
func SourcesFromResults(results []models.RetrievalResult) []models.SourceRef {
	sources := make([]models.SourceRef, 0, len(results))
	for _, r := range results {
		snippet := r.Chunk.Text
		if runes := []rune(snippet); len(runes) > snippetRunes {
			snippet = string(runes[:snippetRunes])
		}
		sources = append(sources, models.SourceRef{
			FileName: r.Chunk.FileName,
			Source:   r.Chunk.SourcePath,
			Snippet:  snippet,
		})
	}
	return sources
}
