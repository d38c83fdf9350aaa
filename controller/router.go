package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// NewRouter builds the Gin engine with the API routes mounted under /api/v1.
func NewRouter(rc *RAGController, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	// CORS for browser clients.
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "PDF RAG API",
			"version": Version,
		})
	})

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/chat", rc.Chat)
		apiV1.GET("/sessions", rc.ListSessions)
		apiV1.GET("/sessions/:id/messages", rc.GetSessionMessages)

		apiV1.GET("/index", rc.Stats)
		apiV1.POST("/index", rc.Index)
		apiV1.POST("/rebuild", rc.Rebuild)
		apiV1.GET("/jobs/:id", rc.JobStatus)
		apiV1.GET("/chunks", rc.ListChunks)

		apiV1.POST("/files", rc.UploadFile)
		apiV1.DELETE("/files/:name", rc.DeleteFile)
	}

	return router
}

// requestLogger writes one structured line per request.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	log = log.WithField("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
