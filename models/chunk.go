package models

// Chunk metadata keys, shared by every vector index backend.
const (
	MetaSource     = "source"
	MetaFileName   = "file_name"
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
)

// Page is the extracted text of one PDF page, tagged with its origin.
type Page struct {
	SourcePath string
	FileName   string
	Number     int // 1-based
	Text       string
}

// Chunk is a bounded span of document text with a stable identity.
type Chunk struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	SourcePath    string `json:"source"`
	FileName      string `json:"file_name"`
	Page          int    `json:"page"`
	SequenceIndex int    `json:"chunk_index"`
}

// RetrievalResult is one ranked hit for a query.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
