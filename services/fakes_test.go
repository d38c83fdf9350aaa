package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github/itish2003/pdfrag/models"
)

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

// fakeExtractor serves canned pages keyed by file base name.
type fakeExtractor struct {
	mu    sync.Mutex
	pages map[string][]string
	fail  map[string]error
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{pages: map[string][]string{}, fail: map[string]error{}}
}

func (f *fakeExtractor) set(name string, pages ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[name] = pages
}

func (f *fakeExtractor) ExtractPages(path string) ([]models.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(path)
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	var out []models.Page
	for i, text := range f.pages[name] {
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, models.Page{SourcePath: path, FileName: name, Number: i + 1, Text: text})
	}
	return out, nil
}

// writePDF drops a placeholder PDF into dir so corpus listing finds it.
func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644))
	return path
}

// keywordEmbedder maps text onto counts of a few marker words.
type keywordEmbedder struct {
	calls atomic.Int64
}

var embedWords = []string{"alpha", "beta", "gamma", "delta"}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	lower := strings.ToLower(text)
	vec := make([]float32, len(embedWords)+1)
	for i, w := range embedWords {
		vec[i] = float32(strings.Count(lower, w))
	}
	vec[len(embedWords)] = 0.01
	return vec, nil
}

// fakeLLM records prompts and replies with canned text.
type fakeLLM struct {
	mu         sync.Mutex
	prompts    []string
	reply      string
	structured models.StructuredAnswer
	err        error
}

func (f *fakeLLM) record(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.record(prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) GenerateStructured(_ context.Context, prompt string) (models.StructuredAnswer, error) {
	f.record(prompt)
	if f.err != nil {
		return models.StructuredAnswer{}, f.err
	}
	return f.structured, nil
}

var errBoom = errors.New("boom")

// newLocalServer starts an httptest server for the test and returns its URL.
func newLocalServer(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return server.URL
}
