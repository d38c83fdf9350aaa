package models

// SourceRef is the provenance record attached to an answer.
type SourceRef struct {
	FileName string `json:"file_name" bson:"file_name"`
	Source   string `json:"source" bson:"source"`
	Snippet  string `json:"snippet" bson:"snippet"`
}

// AnswerKind tags which variant an AnswerResult holds.
type AnswerKind string

const (
	AnswerPlain      AnswerKind = "plain"
	AnswerStructured AnswerKind = "structured"
)

// AnswerResult is what the synthesizer hands back to the orchestrator.
// Kind is resolved once, when the model output is decoded; QuotedSources and
// Reasoning are only populated for structured answers.
type AnswerResult struct {
	Kind          AnswerKind  `json:"kind"`
	Text          string      `json:"answer"`
	QuotedSources string      `json:"quoted_sources,omitempty"`
	Reasoning     string      `json:"reasoning,omitempty"`
	Sources       []SourceRef `json:"sources"`
}

// StructuredAnswer is the JSON shape the model must produce in structured mode.
type StructuredAnswer struct {
	Answer    string `json:"answer"`
	Sources   string `json:"sources"`
	Reasoning string `json:"reasoning"`
}
