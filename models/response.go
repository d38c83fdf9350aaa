package models

import "time"

// ChatResponse is the body returned by POST /api/v1/chat.
type ChatResponse struct {
	SessionID string      `json:"session_id"`
	Answer    string      `json:"answer"`
	Sources   []SourceRef `json:"sources"`
	Reasoning string      `json:"reasoning,omitempty"`
}

// IndexStats summarises the active vector index generation.
type IndexStats struct {
	Generation string `json:"generation"`
	Chunks     int    `json:"chunks"`
}

// IndexSummary is the outcome of one indexing run.
type IndexSummary struct {
	Files      int    `json:"num_files"`
	Chunks     int    `json:"num_chunks"`
	Generation string `json:"generation"`
	Reset      bool   `json:"reset"`
}

// JobState is the lifecycle of a background indexing job.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// JobStatus reports a background indexing job.
type JobStatus struct {
	ID         string        `json:"job_id"`
	Reset      bool          `json:"reset"`
	State      JobState      `json:"state"`
	Summary    *IndexSummary `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
	QueuedAt   time.Time     `json:"queued_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// ChunkListResponse is the body of GET /api/v1/chunks.
type ChunkListResponse struct {
	Count  int     `json:"count"`
	Chunks []Chunk `json:"chunks"`
}
