package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github/itish2003/pdfrag/models"
)

// Chunking policy.
const (
	ChunkSize    = 1500
	ChunkOverlap = 200

	// idPrefixRunes is how much of a chunk's text feeds its content hash.
	idPrefixRunes = 200
)

// chunkSeparators are tried in order: paragraph, line, sentence, word, character.
var chunkSeparators = []string{"\n\n", "\n", ".", " ", ""}

// Chunker splits extracted pages into overlapping windows.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

func NewChunker() *Chunker {
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ChunkSize),
			textsplitter.WithChunkOverlap(ChunkOverlap),
			textsplitter.WithSeparators(chunkSeparators),
			textsplitter.WithKeepSeparator(true),
		),
	}
}

// Split chunks the pages of a single file. SequenceIndex counts chunks across
// the whole file, so the same file always yields the same IDs.
func (c *Chunker) Split(pages []models.Page) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		parts, err := c.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("split page %d of %s: %w", page.Number, page.FileName, err)
		}
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			seq := len(chunks)
			chunks = append(chunks, models.Chunk{
				ID:            ChunkID(page.SourcePath, seq, part),
				Text:          part,
				SourcePath:    page.SourcePath,
				FileName:      page.FileName,
				Page:          page.Number,
				SequenceIndex: seq,
			})
		}
	}
	return chunks, nil
}

// ChunkID is "<path>::<seq>::<uuid5(URL namespace, first 200 chars)>".
func ChunkID(sourcePath string, seq int, text string) string {
	prefix := text
	if r := []rune(text); len(r) > idPrefixRunes {
		prefix = string(r[:idPrefixRunes])
	}
	return fmt.Sprintf("%s::%d::%s", sourcePath, seq, uuid.NewSHA1(uuid.NameSpaceURL, []byte(prefix)))
}
