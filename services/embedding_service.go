package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// EmbeddingProvider maps text to a dense vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	httpClient *http.Client
	baseURL    string
	model      string
	policy     UpstreamPolicy
	log        logrus.FieldLogger
}

func NewOllamaEmbedder(client *http.Client, baseURL, model string, policy UpstreamPolicy, log logrus.FieldLogger) *OllamaEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaEmbedder{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		policy:     policy,
		log:        log.WithField("component", "embedder"),
	}
}

// Embed generates an embedding with Ollama.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return callUpstream(ctx, o.policy, o.log, "ollama embedding", func(ctx context.Context) ([]float32, error) {
		return o.embedOnce(ctx, text)
	})
}

func (o *OllamaEmbedder) embedOnce(ctx context.Context, textToEmbed string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{
		Model:  o.model,
		Prompt: textToEmbed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call ollama embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &statusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if len(ollamaResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return ollamaResp.Embedding, nil
}

// GeminiEmbedder embeds text with the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	policy UpstreamPolicy
	log    logrus.FieldLogger
}

func NewGeminiEmbedder(client *genai.Client, model string, policy UpstreamPolicy, log logrus.FieldLogger) *GeminiEmbedder {
	return &GeminiEmbedder{
		client: client,
		model:  model,
		policy: policy,
		log:    log.WithField("component", "embedder"),
	}
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return callUpstream(ctx, g.policy, g.log, "gemini embedding", func(ctx context.Context) ([]float32, error) {
		resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), nil)
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return nil, fmt.Errorf("gemini returned no embedding")
		}
		return resp.Embeddings[0].Values, nil
	})
}
