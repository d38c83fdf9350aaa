package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"google.golang.org/genai"

	"github/itish2003/pdfrag/models"
)

// Sampling defaults for answer generation.
const (
	DefaultTemperature = 0.2
	DefaultTopP        = 0.95
)

var errEmptyCompletion = errors.New("model returned an empty completion")

// LanguageModel generates answers from a fully built prompt.
type LanguageModel interface {
	// Generate returns the raw completion text.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStructured returns a completion shaped as {answer, sources, reasoning}.
	GenerateStructured(ctx context.Context, prompt string) (models.StructuredAnswer, error)
}

// GeminiLanguageModel calls Gemini through the genai SDK.
type GeminiLanguageModel struct {
	client      *genai.Client
	model       string
	temperature float32
	policy      UpstreamPolicy
	log         logrus.FieldLogger
}

func NewGeminiLanguageModel(client *genai.Client, model string, temperature float64, policy UpstreamPolicy, log logrus.FieldLogger) *GeminiLanguageModel {
	return &GeminiLanguageModel{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		policy:      policy,
		log:         log.WithField("component", "llm"),
	}
}

func (g *GeminiLanguageModel) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
		TopP:        genai.Ptr[float32](DefaultTopP),
	}
}

func (g *GeminiLanguageModel) Generate(ctx context.Context, prompt string) (string, error) {
	return callUpstream(ctx, g.policy, g.log, "gemini generate", func(ctx context.Context) (string, error) {
		return g.generateOnce(ctx, prompt, g.config())
	})
}

func (g *GeminiLanguageModel) GenerateStructured(ctx context.Context, prompt string) (models.StructuredAnswer, error) {
	cfg := g.config()
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = answerSchema()
	return callUpstream(ctx, g.policy, g.log, "gemini structured generate", func(ctx context.Context) (models.StructuredAnswer, error) {
		text, err := g.generateOnce(ctx, prompt, cfg)
		if err != nil {
			return models.StructuredAnswer{}, err
		}
		return decodeStructured(text)
	})
}

func (g *GeminiLanguageModel) generateOnce(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	g.log.Debugf("SERVICE-HELPER: Sending prompt to Gemini (%d chars)", len(prompt))
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini api call failed: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

// OllamaLanguageModel calls a local Ollama model through langchaingo.
type OllamaLanguageModel struct {
	llm         llms.Model
	temperature float64
	policy      UpstreamPolicy
	log         logrus.FieldLogger
}

func NewOllamaLanguageModel(client *http.Client, baseURL, model string, temperature float64, policy UpstreamPolicy, log logrus.FieldLogger) (*OllamaLanguageModel, error) {
	opts := []ollama.Option{ollama.WithModel(model), ollama.WithServerURL(baseURL)}
	if client != nil {
		opts = append(opts, ollama.WithHTTPClient(client))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaLanguageModel{
		llm:         llm,
		temperature: temperature,
		policy:      policy,
		log:         log.WithField("component", "llm"),
	}, nil
}

func (o *OllamaLanguageModel) Generate(ctx context.Context, prompt string) (string, error) {
	return callUpstream(ctx, o.policy, o.log, "ollama generate", func(ctx context.Context) (string, error) {
		return o.generateOnce(ctx, prompt)
	})
}

func (o *OllamaLanguageModel) GenerateStructured(ctx context.Context, prompt string) (models.StructuredAnswer, error) {
	prompt += structuredSuffix
	return callUpstream(ctx, o.policy, o.log, "ollama structured generate", func(ctx context.Context) (models.StructuredAnswer, error) {
		text, err := o.generateOnce(ctx, prompt, llms.WithJSONMode())
		if err != nil {
			return models.StructuredAnswer{}, err
		}
		return decodeStructured(text)
	})
}

func (o *OllamaLanguageModel) generateOnce(ctx context.Context, prompt string, extra ...llms.CallOption) (string, error) {
	opts := append([]llms.CallOption{
		llms.WithTemperature(o.temperature),
		llms.WithTopP(DefaultTopP),
	}, extra...)
	text, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama call failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

// decodeStructured parses a JSON completion, tolerating a markdown code fence.
func decodeStructured(text string) (models.StructuredAnswer, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	var out models.StructuredAnswer
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, fmt.Errorf("decode structured answer: %w", err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return out, fmt.Errorf("structured answer has no answer field")
	}
	return out, nil
}
