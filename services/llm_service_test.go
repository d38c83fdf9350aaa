package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/itish2003/pdfrag/models"
)

func TestDecodeStructured(t *testing.T) {
	want := models.StructuredAnswer{Answer: "42", Sources: "the book", Reasoning: "it says so"}

	got, err := decodeStructured(`{"answer":"42","sources":"the book","reasoning":"it says so"}`)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = decodeStructured("```json\n{\"answer\":\"42\",\"sources\":\"the book\",\"reasoning\":\"it says so\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = decodeStructured("not json")
	assert.Error(t, err)

	_, err = decodeStructured(`{"sources":"x"}`)
	assert.Error(t, err)
}

func ollamaChatServer(t *testing.T, reply string, seen *map[string]any) string {
	t.Helper()
	server := newLocalServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			require.NoError(t, json.Unmarshal(body, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "llama3",
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	})
	return server
}

func TestOllamaLanguageModel_Generate(t *testing.T) {
	var seen map[string]any
	url := ollamaChatServer(t, "Alpha is the first letter.", &seen)

	llm, err := NewOllamaLanguageModel(nil, url, "llama3", DefaultTemperature, fastPolicy(), nullLogger())
	require.NoError(t, err)

	text, err := llm.Generate(context.Background(), "What is alpha?")
	require.NoError(t, err)
	assert.Equal(t, "Alpha is the first letter.", text)
	assert.Equal(t, "llama3", seen["model"])
}

func TestOllamaLanguageModel_GenerateStructured(t *testing.T) {
	var seen map[string]any
	url := ollamaChatServer(t, `{"answer":"A","sources":"S","reasoning":"R"}`, &seen)

	llm, err := NewOllamaLanguageModel(nil, url, "llama3", DefaultTemperature, fastPolicy(), nullLogger())
	require.NoError(t, err)

	out, err := llm.GenerateStructured(context.Background(), "What is alpha?")
	require.NoError(t, err)
	assert.Equal(t, models.StructuredAnswer{Answer: "A", Sources: "S", Reasoning: "R"}, out)
	assert.Equal(t, "json", seen["format"])

	msgs, _ := seen["messages"].([]any)
	require.Len(t, msgs, 1)
	content, _ := msgs[0].(map[string]any)["content"].(string)
	assert.True(t, strings.HasPrefix(content, "What is alpha?"))
	assert.Contains(t, content, `"reasoning"`)
}

func TestGeminiLanguageModel_Generate(t *testing.T) {
	var body map[string]any
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash-001:generateContent")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Grounded answer."}]}}]}`))
	})

	llm := NewGeminiLanguageModel(client, "gemini-2.0-flash-001", DefaultTemperature, fastPolicy(), nullLogger())
	text, err := llm.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Grounded answer.", text)

	cfg, _ := body["generationConfig"].(map[string]any)
	require.NotNil(t, cfg)
	assert.InDelta(t, 0.2, cfg["temperature"], 1e-6)
	assert.InDelta(t, 0.95, cfg["topP"], 1e-6)
}

func TestGeminiLanguageModel_GenerateStructured(t *testing.T) {
	var body map[string]any
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"answer\":\"A\",\"sources\":\"S\",\"reasoning\":\"R\"}"}]}}]}`))
	})

	llm := NewGeminiLanguageModel(client, "gemini-2.0-flash-001", DefaultTemperature, fastPolicy(), nullLogger())
	out, err := llm.GenerateStructured(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, models.StructuredAnswer{Answer: "A", Sources: "S", Reasoning: "R"}, out)

	cfg, _ := body["generationConfig"].(map[string]any)
	require.NotNil(t, cfg)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
	assert.NotNil(t, cfg["responseSchema"])
}

func TestGeminiLanguageModel_EmptyCandidatesExhaustRetries(t *testing.T) {
	client := newGeminiTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	llm := NewGeminiLanguageModel(client, "gemini-2.0-flash-001", DefaultTemperature, fastPolicy(), nullLogger())
	_, err := llm.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, models.ErrUpstreamModel)
}
