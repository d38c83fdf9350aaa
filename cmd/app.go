package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github/itish2003/pdfrag/config"
	"github/itish2003/pdfrag/conversation"
	"github/itish2003/pdfrag/models"
	"github/itish2003/pdfrag/services"
	"github/itish2003/pdfrag/vectorstore"
)

// app holds every wired component. Commands build one and close it on exit.
type app struct {
	log     logrus.FieldLogger
	index   *vectorstore.Index
	store   conversation.Store
	indexer *services.FileIndexingService
	rag     services.RAGService
}

func newApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (a *app, err error) {
	a = &app{log: log.WithField("component", "app")}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	policy := services.DefaultUpstreamPolicy()
	policy.Timeout = cfg.UpstreamTimeout
	policy.Attempts = cfg.UpstreamRetries

	var geminiClient *genai.Client
	if cfg.NeedsGemini() {
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: GEM_API_KEY must be set for the gemini provider", models.ErrConfiguration)
		}
		geminiClient, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: creating Gemini client: %v", models.ErrConfiguration, err)
		}
		a.log.Info("Successfully connected to Google Gemini.")
	}

	var embedder services.EmbeddingProvider
	switch cfg.EmbeddingProvider {
	case "ollama":
		embedder = services.NewOllamaEmbedder(httpClient, cfg.OllamaURL, cfg.EmbeddingModel, policy, log)
	default:
		embedder = services.NewGeminiEmbedder(geminiClient, cfg.EmbeddingModel, policy, log)
	}

	var backend vectorstore.Backend
	switch cfg.VectorBackend {
	case "chroma":
		backend, err = vectorstore.NewChromaBackend(cfg.ChromaURL, cfg.ChromaCollection, log)
	default:
		backend, err = vectorstore.NewBoltBackend(filepath.Join(cfg.PersistDir, "generations"))
	}
	if err != nil {
		return nil, err
	}
	a.index, err = vectorstore.NewIndex(backend, embedder, cfg.PersistDir, cfg.EmbedConcurrency, log)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	var llm services.LanguageModel
	switch cfg.LLMProvider {
	case "ollama":
		llm, err = services.NewOllamaLanguageModel(httpClient, cfg.OllamaURL, cfg.LLMModel, cfg.LLMTemperature, policy, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
		}
	default:
		llm = services.NewGeminiLanguageModel(geminiClient, cfg.LLMModel, cfg.LLMTemperature, policy, log)
	}

	switch cfg.ConversationBackend {
	case "mongo":
		store, err := conversation.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, log)
		if err != nil {
			return nil, err
		}
		a.store = store
	default:
		store, err := conversation.NewSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	files, err := services.NewFileActions(cfg.KBFolder)
	if err != nil {
		return nil, err
	}
	ingestor := services.NewIngestor(services.NewPDFExtractor(cfg.UnidocLicenseKey, log), services.NewChunker(), log)
	a.indexer = services.NewFileIndexingService(files, ingestor, a.index, log)
	a.rag = services.NewRAGService(a.store, services.NewRetriever(a.index), services.NewSynthesizer(llm), log)
	return a, nil
}

// Close releases the conversation store and the vector index.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	return errors.Join(errs...)
}
