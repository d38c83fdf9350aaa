package models

import "errors"

// Errors surfaced by the RAG core. Callers wrap them with fmt.Errorf("...: %w")
// and the controller maps them to status codes with errors.Is.
var (
	// ErrConfiguration indicates the corpus folder is missing or unreadable,
	// or a required setting is absent.
	ErrConfiguration = errors.New("configuration error")

	// ErrEmptyCorpus indicates ingestion produced no extractable chunks.
	ErrEmptyCorpus = errors.New("no extractable text in corpus")

	// ErrSessionNotFound indicates a canonical session id was given but no
	// session exists for it.
	ErrSessionNotFound = errors.New("session not found")

	// ErrValidation indicates malformed input: a bad session id, an
	// unsupported file type, an out of range parameter.
	ErrValidation = errors.New("validation error")

	// ErrUpstreamModel indicates the embedding or language model provider
	// kept failing after the retry budget was spent.
	ErrUpstreamModel = errors.New("upstream model error")
)
