package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/itish2003/pdfrag/models"
	"github/itish2003/pdfrag/services"
)

type fakeRAG struct {
	gotSession string
	gotOpts    models.ChatOptions
	answer     models.AnswerResult
	err        error
	sessions   []models.Session
	messages   []models.Message
}

func (f *fakeRAG) HandleQuestion(_ context.Context, sessionID, _ string, opts models.ChatOptions) (string, models.AnswerResult, error) {
	f.gotSession = sessionID
	f.gotOpts = opts
	if f.err != nil {
		return "", models.AnswerResult{}, f.err
	}
	if sessionID == "" {
		sessionID = "64b7f0c2a1b2c3d4e5f60718"
	}
	return sessionID, f.answer, nil
}

func (f *fakeRAG) ListSessions(context.Context) ([]models.Session, error) {
	return f.sessions, f.err
}

func (f *fakeRAG) GetSessionMessages(_ context.Context, id string) ([]models.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type fakeIndexer struct {
	submitted []bool
	uploaded  string
	body      string
	removed   string
	err       error
	jobs      map[string]models.JobStatus
}

func (f *fakeIndexer) job(reset bool) models.JobStatus {
	return models.JobStatus{ID: "job-1", Reset: reset, State: models.JobQueued, QueuedAt: time.Now()}
}

func (f *fakeIndexer) Submit(reset bool) (models.JobStatus, error) {
	if f.err != nil {
		return models.JobStatus{}, f.err
	}
	f.submitted = append(f.submitted, reset)
	return f.job(reset), nil
}

func (f *fakeIndexer) Status(id string) (models.JobStatus, bool) {
	j, ok := f.jobs[id]
	return j, ok
}

func (f *fakeIndexer) IngestFile(filename string, r io.Reader, reset bool) (models.JobStatus, error) {
	if f.err != nil {
		return models.JobStatus{}, f.err
	}
	data, _ := io.ReadAll(r)
	f.uploaded, f.body = filename, string(data)
	return f.job(reset), nil
}

func (f *fakeIndexer) RemoveFile(filename string) (models.JobStatus, error) {
	if f.err != nil {
		return models.JobStatus{}, f.err
	}
	f.removed = filename
	return f.job(true), nil
}

type fakeInspector struct {
	chunks []models.Chunk
}

func (f *fakeInspector) Stats(context.Context) (models.IndexStats, error) {
	return models.IndexStats{Generation: "gen-1", Chunks: len(f.chunks)}, nil
}

func (f *fakeInspector) Chunks(context.Context) ([]models.Chunk, error) {
	return f.chunks, nil
}

type harness struct {
	router  *gin.Engine
	rag     *fakeRAG
	indexer *fakeIndexer
}

func newHarness() *harness {
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	h := &harness{
		rag:     &fakeRAG{},
		indexer: &fakeIndexer{jobs: map[string]models.JobStatus{}},
	}
	inspector := &fakeInspector{chunks: []models.Chunk{{ID: "a.pdf::0::x", Text: "alpha", FileName: "a.pdf"}}}
	h.router = NewRouter(NewRAGController(h.rag, h.indexer, inspector, log), log)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness()
	w := h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "healthy", decode[map[string]string](t, w)["status"])
}

func TestPreflight(t *testing.T) {
	h := newHarness()
	w := h.do(t, http.MethodOptions, "/api/v1/chat", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestChat(t *testing.T) {
	h := newHarness()
	h.rag.answer = models.AnswerResult{
		Kind:    models.AnswerPlain,
		Text:    "Alpha runs hot.",
		Sources: []models.SourceRef{{FileName: "a.pdf", Source: "kb/a.pdf", Snippet: "alpha"}},
	}

	w := h.do(t, http.MethodPost, "/api/v1/chat", bytes.NewBufferString(`{"question":"What?","k":3,"use_history":false}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[models.ChatResponse](t, w)
	assert.Equal(t, "64b7f0c2a1b2c3d4e5f60718", resp.SessionID)
	assert.Equal(t, "Alpha runs hot.", resp.Answer)
	assert.Len(t, resp.Sources, 1)
	assert.Equal(t, 3, h.rag.gotOpts.K)
	assert.False(t, h.rag.gotOpts.UseHistory)
	assert.Equal(t, models.DefaultHistoryLimit, h.rag.gotOpts.HistoryLimit)
}

func TestChat_MissingQuestion(t *testing.T) {
	h := newHarness()
	w := h.do(t, http.MethodPost, "/api/v1/chat", bytes.NewBufferString(`{"session_id":"x"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "Invalid request body")
}

func TestChat_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: k must be at least 1", models.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: 64b7f0c2a1b2c3d4e5f60718", models.ErrSessionNotFound), http.StatusNotFound},
		{models.ErrEmptyCorpus, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: gemini: 503", models.ErrUpstreamModel), http.StatusBadGateway},
		{services.ErrQueueFull, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := newHarness()
			h.rag.err = tc.err
			w := h.do(t, http.MethodPost, "/api/v1/chat", bytes.NewBufferString(`{"question":"q"}`), "application/json")
			assert.Equal(t, tc.code, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestInternalErrorDetailIsHidden(t *testing.T) {
	h := newHarness()
	h.rag.err = fmt.Errorf("sqlite: database is locked")
	w := h.do(t, http.MethodGet, "/api/v1/sessions", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "sqlite")
}

func TestSessionsAndMessages(t *testing.T) {
	h := newHarness()
	h.rag.sessions = []models.Session{{ID: "64b7f0c2a1b2c3d4e5f60718", Title: "What is alpha?", MessageCount: 2}}
	h.rag.messages = []models.Message{
		{Role: models.RoleUser, Content: "What is alpha?"},
		{Role: models.RoleAssistant, Content: "The first letter."},
	}

	w := h.do(t, http.MethodGet, "/api/v1/sessions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[[]models.Session](t, w)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].MessageCount)

	w = h.do(t, http.MethodGet, "/api/v1/sessions/64b7f0c2a1b2c3d4e5f60718/messages", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]models.Message](t, w)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestIndexAndRebuild(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodPost, "/api/v1/index?reset=true", nil, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "job-1", decode[models.JobStatus](t, w).ID)

	w = h.do(t, http.MethodPost, "/api/v1/index", nil, "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/rebuild", nil, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []bool{true, false, true}, h.indexer.submitted)

	w = h.do(t, http.MethodPost, "/api/v1/index?reset=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.indexer.err = services.ErrQueueFull
	w = h.do(t, http.MethodPost, "/api/v1/rebuild", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestJobStatus(t *testing.T) {
	h := newHarness()
	h.indexer.jobs["job-9"] = models.JobStatus{ID: "job-9", State: models.JobDone, Summary: &models.IndexSummary{Files: 2, Chunks: 7}}

	w := h.do(t, http.MethodGet, "/api/v1/jobs/job-9", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	job := decode[models.JobStatus](t, w)
	assert.Equal(t, models.JobDone, job.State)
	assert.Equal(t, 7, job.Summary.Chunks)

	w = h.do(t, http.MethodGet, "/api/v1/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsAndChunks(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodGet, "/api/v1/index", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.IndexStats{Generation: "gen-1", Chunks: 1}, decode[models.IndexStats](t, w))

	w = h.do(t, http.MethodGet, "/api/v1/chunks", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ChunkListResponse](t, w)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "a.pdf", list.Chunks[0].FileName)
}

func TestUploadFile(t *testing.T) {
	h := newHarness()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7 body"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("reset", "true"))
	require.NoError(t, mw.Close())

	w := h.do(t, http.MethodPost, "/api/v1/files", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, decode[models.JobStatus](t, w).Reset)
	assert.Equal(t, "report.pdf", h.indexer.uploaded)
	assert.Equal(t, "%PDF-1.7 body", h.indexer.body)
}

func TestUploadFile_Rejects(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodPost, "/api/v1/files", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("plain"))
	require.NoError(t, mw.Close())

	h.indexer.err = fmt.Errorf("%w: only .pdf files are accepted", models.ErrValidation)
	w = h.do(t, http.MethodPost, "/api/v1/files", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], ".pdf")
}

func TestDeleteFile(t *testing.T) {
	h := newHarness()
	w := h.do(t, http.MethodDelete, "/api/v1/files/a.pdf", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "a.pdf", h.indexer.removed)
	assert.True(t, decode[models.JobStatus](t, w).Reset)
}
