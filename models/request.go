package models

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Question     string `json:"question" binding:"required"`
	SessionID    string `json:"session_id,omitempty"`
	K            *int   `json:"k,omitempty"`
	Structured   bool   `json:"structured,omitempty"`
	UseHistory   *bool  `json:"use_history,omitempty"`
	HistoryLimit *int   `json:"history_limit,omitempty"`
}

// Chat defaults.
const (
	DefaultK            = 6
	DefaultHistoryLimit = 8
)

// ChatOptions are the resolved knobs for one question.
type ChatOptions struct {
	K            int
	UseHistory   bool
	HistoryLimit int
	Structured   bool
}

// Options applies defaults to the optional request fields.
func (r ChatRequest) Options() ChatOptions {
	opts := ChatOptions{
		K:            DefaultK,
		UseHistory:   true,
		HistoryLimit: DefaultHistoryLimit,
		Structured:   r.Structured,
	}
	if r.K != nil {
		opts.K = *r.K
	}
	if r.UseHistory != nil {
		opts.UseHistory = *r.UseHistory
	}
	if r.HistoryLimit != nil {
		opts.HistoryLimit = *r.HistoryLimit
	}
	return opts
}
