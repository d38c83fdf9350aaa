package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github/itish2003/pdfrag/models"
	"github/itish2003/pdfrag/services"
)

// Indexer queues and reports background indexing work.
type Indexer interface {
	Submit(reset bool) (models.JobStatus, error)
	Status(id string) (models.JobStatus, bool)
	IngestFile(filename string, r io.Reader, reset bool) (models.JobStatus, error)
	RemoveFile(filename string) (models.JobStatus, error)
}

// IndexInspector exposes read-only views of the vector index.
type IndexInspector interface {
	Stats(ctx context.Context) (models.IndexStats, error)
	Chunks(ctx context.Context) ([]models.Chunk, error)
}

// RAGController handles the HTTP requests for our RAG API. It depends on the
// RAGService for chat and on the indexer for corpus maintenance.
type RAGController struct {
	ragService services.RAGService
	indexer    Indexer
	index      IndexInspector
	log        logrus.FieldLogger
}

// NewRAGController is called from the serve command to inject dependencies.
func NewRAGController(service services.RAGService, indexer Indexer, index IndexInspector, log logrus.FieldLogger) *RAGController {
	return &RAGController{
		ragService: service,
		indexer:    indexer,
		index:      index,
		log:        log.WithField("component", "http"),
	}
}

// Chat is the Gin handler for POST /api/v1/chat.
func (c *RAGController) Chat(ctx *gin.Context) {
	var req models.ChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	sessionID, answer, err := c.ragService.HandleQuestion(ctx.Request.Context(), req.SessionID, req.Question, req.Options())
	if err != nil {
		c.respondError(ctx, "Failed to generate AI response", err)
		return
	}

	ctx.JSON(http.StatusOK, models.ChatResponse{
		SessionID: sessionID,
		Answer:    answer.Text,
		Sources:   answer.Sources,
		Reasoning: answer.Reasoning,
	})
}

// ListSessions is the Gin handler for GET /api/v1/sessions.
func (c *RAGController) ListSessions(ctx *gin.Context) {
	sessions, err := c.ragService.ListSessions(ctx.Request.Context())
	if err != nil {
		c.respondError(ctx, "Failed to list sessions", err)
		return
	}
	ctx.JSON(http.StatusOK, sessions)
}

// GetSessionMessages is the Gin handler for GET /api/v1/sessions/:id/messages.
func (c *RAGController) GetSessionMessages(ctx *gin.Context) {
	msgs, err := c.ragService.GetSessionMessages(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		c.respondError(ctx, "Failed to load messages", err)
		return
	}
	ctx.JSON(http.StatusOK, msgs)
}

// Index is the Gin handler for POST /api/v1/index?reset=bool.
func (c *RAGController) Index(ctx *gin.Context) {
	reset, err := strconv.ParseBool(ctx.DefaultQuery("reset", "false"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "reset must be a boolean"})
		return
	}
	c.submit(ctx, reset)
}

// Rebuild is the Gin handler for POST /api/v1/rebuild.
func (c *RAGController) Rebuild(ctx *gin.Context) {
	c.submit(ctx, true)
}

func (c *RAGController) submit(ctx *gin.Context, reset bool) {
	job, err := c.indexer.Submit(reset)
	if err != nil {
		c.respondError(ctx, "Failed to queue indexing", err)
		return
	}
	ctx.JSON(http.StatusAccepted, job)
}

// UploadFile is the Gin handler for POST /api/v1/files (multipart "file").
func (c *RAGController) UploadFile(ctx *gin.Context) {
	header, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "missing multipart field 'file'"})
		return
	}
	reset, err := strconv.ParseBool(ctx.DefaultPostForm("reset", "false"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "reset must be a boolean"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.respondError(ctx, "Failed to read upload", err)
		return
	}
	defer f.Close()

	job, err := c.indexer.IngestFile(header.Filename, f, reset)
	if err != nil {
		c.respondError(ctx, "Failed to ingest file", err)
		return
	}
	ctx.JSON(http.StatusAccepted, job)
}

// DeleteFile is the Gin handler for DELETE /api/v1/files/:name.
func (c *RAGController) DeleteFile(ctx *gin.Context) {
	job, err := c.indexer.RemoveFile(ctx.Param("name"))
	if err != nil {
		c.respondError(ctx, "Failed to delete file", err)
		return
	}
	ctx.JSON(http.StatusAccepted, job)
}

// JobStatus is the Gin handler for GET /api/v1/jobs/:id.
func (c *RAGController) JobStatus(ctx *gin.Context) {
	job, ok := c.indexer.Status(ctx.Param("id"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	ctx.JSON(http.StatusOK, job)
}

// Stats is the Gin handler for GET /api/v1/index.
func (c *RAGController) Stats(ctx *gin.Context) {
	stats, err := c.index.Stats(ctx.Request.Context())
	if err != nil {
		c.respondError(ctx, "Failed to read index stats", err)
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

// ListChunks is the Gin handler for GET /api/v1/chunks.
func (c *RAGController) ListChunks(ctx *gin.Context) {
	chunks, err := c.index.Chunks(ctx.Request.Context())
	if err != nil {
		c.respondError(ctx, "Failed to retrieve chunks", err)
		return
	}
	ctx.JSON(http.StatusOK, models.ChunkListResponse{Count: len(chunks), Chunks: chunks})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmptyCorpus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrUpstreamModel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError reports client faults verbatim and hides server faults behind
// msg. Server faults are logged.
func (c *RAGController) respondError(ctx *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.log.WithField("path", ctx.FullPath()).Errorf("HTTP ERROR: %s: %v", msg, err)
		if status != http.StatusInternalServerError {
			msg = msg + ": " + err.Error()
		}
		ctx.JSON(status, gin.H{"error": msg})
		return
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}
