package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github/itish2003/pdfrag/conversation"
	"github/itish2003/pdfrag/models"
)

// RAGService answers questions over the indexed corpus and exposes the
// conversation history behind them.
type RAGService interface {
	HandleQuestion(ctx context.Context, rawSessionID, question string, opts models.ChatOptions) (string, models.AnswerResult, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	GetSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error)
}

// ragServiceImpl composes the conversation store, retriever and synthesizer.
type ragServiceImpl struct {
	store       conversation.Store
	retriever   *Retriever
	synthesizer *Synthesizer
	log         logrus.FieldLogger
}

// NewRAGService creates a new RAG service instance.
func NewRAGService(store conversation.Store, retriever *Retriever, synthesizer *Synthesizer, log logrus.FieldLogger) RAGService {
	return &ragServiceImpl{
		store:       store,
		retriever:   retriever,
		synthesizer: synthesizer,
		log:         log.WithField("component", "chat"),
	}
}

// HandleQuestion runs one chat turn. The user message is stored before
// retrieval so a failed turn still leaves the question on record.
func (r *ragServiceImpl) HandleQuestion(ctx context.Context, rawSessionID, question string, opts models.ChatOptions) (string, models.AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", models.AnswerResult{}, fmt.Errorf("%w: question must not be empty", models.ErrValidation)
	}
	if opts.K < 1 {
		return "", models.AnswerResult{}, fmt.Errorf("%w: k must be at least 1, got %d", models.ErrValidation, opts.K)
	}
	if opts.HistoryLimit < 0 {
		return "", models.AnswerResult{}, fmt.Errorf("%w: history_limit must not be negative", models.ErrValidation)
	}

	sessionID, err := r.store.ResolveSession(ctx, rawSessionID)
	if err != nil {
		return "", models.AnswerResult{}, err
	}
	log := r.log.WithField("session_id", sessionID)
	log.Infof("SERVICE: Question (k=%d, structured=%t, history=%t)", opts.K, opts.Structured, opts.UseHistory)

	if err := r.store.AppendMessage(ctx, sessionID, models.RoleUser, question, nil); err != nil {
		return "", models.AnswerResult{}, fmt.Errorf("could not store question: %w", err)
	}

	history := []models.HistoryPair{}
	if opts.UseHistory {
		history, err = r.store.FetchHistoryPairs(ctx, sessionID, opts.HistoryLimit)
		if err != nil {
			return "", models.AnswerResult{}, fmt.Errorf("could not load history: %w", err)
		}
	}

	results, err := r.retriever.Retrieve(ctx, question, opts.K)
	if err != nil {
		return "", models.AnswerResult{}, err
	}
	log.Debugf("SERVICE-HELPER: Retrieved %d chunks, %d history pairs", len(results), len(history))

	prompt := BuildPrompt(question, history, results)

	answer, err := r.synthesizer.Synthesize(ctx, prompt, opts.Structured, results)
	if err != nil {
		return "", models.AnswerResult{}, fmt.Errorf("could not generate answer: %w", err)
	}

	if err := r.store.AppendMessage(ctx, sessionID, models.RoleAssistant, answer.Text, answer.Sources); err != nil {
		return "", models.AnswerResult{}, fmt.Errorf("could not store answer: %w", err)
	}
	return sessionID, answer, nil
}

func (r *ragServiceImpl) ListSessions(ctx context.Context) ([]models.Session, error) {
	return r.store.ListSessions(ctx)
}

func (r *ragServiceImpl) GetSessionMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	return r.store.GetSessionMessages(ctx, sessionID)
}
