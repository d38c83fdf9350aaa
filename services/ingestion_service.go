package services

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github/itish2003/pdfrag/models"
)

// Ingestor turns corpus files into chunks.
type Ingestor struct {
	extractor PageExtractor
	chunker   *Chunker
	log       logrus.FieldLogger
}

func NewIngestor(extractor PageExtractor, chunker *Chunker, log logrus.FieldLogger) *Ingestor {
	return &Ingestor{
		extractor: extractor,
		chunker:   chunker,
		log:       log.WithField("component", "ingestion"),
	}
}

// ListCorpus walks folder recursively and returns every PDF in lexical order.
func ListCorpus(folder string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: knowledge base folder %s: %v", models.ErrConfiguration, folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: knowledge base folder %s is not a directory", models.ErrConfiguration, folder)
	}

	var files []string
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPDF(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", models.ErrConfiguration, folder, err)
	}
	sort.Strings(files)
	return files, nil
}

// Ingest extracts and chunks files. Any extraction failure aborts the run; if
// nothing at all is extracted the result is ErrEmptyCorpus.
func (in *Ingestor) Ingest(files []string) ([]models.Chunk, error) {
	var all []models.Chunk
	for _, path := range files {
		pages, err := in.extractor.ExtractPages(path)
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", path, err)
		}
		chunks, err := in.chunker.Split(pages)
		if err != nil {
			return nil, err
		}
		in.log.Infof("INGEST: Split %s into %d chunks.", path, len(chunks))
		all = append(all, chunks...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %d files yielded no text", models.ErrEmptyCorpus, len(files))
	}
	return all, nil
}
