package services

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github/itish2003/pdfrag/models"
)

var pdfMagic = []byte("%PDF-")

// FileActions handles the corpus folder on disk.
type FileActions struct {
	CorpusDir string // The absolute path to the corpus folder
}

func NewFileActions(corpusDir string) (*FileActions, error) {
	if corpusDir == "" {
		return nil, fmt.Errorf("%w: KB_FOLDER is not set", models.ErrConfiguration)
	}
	absPath, err := filepath.Abs(corpusDir)
	if err != nil {
		return nil, fmt.Errorf("%w: could not determine absolute path for %s: %v", models.ErrConfiguration, corpusDir, err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", models.ErrConfiguration, absPath, err)
	}
	return &FileActions{CorpusDir: absPath}, nil
}

// sanitizeFilename keeps only the base name, which must be a .pdf, so the
// result always lies directly inside the corpus folder.
func (fa *FileActions) sanitizeFilename(filename string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("%w: invalid filename %q", models.ErrValidation, filename)
	}
	if !isPDF(base) {
		return "", fmt.Errorf("%w: only .pdf files are accepted, got %q", models.ErrValidation, filename)
	}
	cleanPath := filepath.Join(fa.CorpusDir, base)
	if filepath.Dir(cleanPath) != fa.CorpusDir {
		return "", fmt.Errorf("%w: invalid filename, attempts to escape corpus directory", models.ErrValidation)
	}
	return cleanPath, nil
}

// SavePDF writes r into the corpus folder under filename. The file appears
// atomically; an existing file of the same name is replaced.
func (fa *FileActions) SavePDF(filename string, r io.Reader) (string, error) {
	path, err := fa.sanitizeFilename(filename)
	if err != nil {
		return "", err
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(pdfMagic))
	if err != nil || !bytes.Equal(head, pdfMagic) {
		return "", fmt.Errorf("%w: %s is not a PDF document", models.ErrValidation, filename)
	}

	tmp, err := os.CreateTemp(fa.CorpusDir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, br); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write '%s': %w", filename, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync '%s': %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close '%s': %w", filename, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move '%s' into place: %w", filename, err)
	}
	return path, nil
}

// DeletePDF removes filename from the corpus folder.
func (fa *FileActions) DeletePDF(filename string) error {
	path, err := fa.sanitizeFilename(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: file '%s' does not exist", models.ErrValidation, filename)
		}
		return fmt.Errorf("failed to delete file '%s': %w", filename, err)
	}
	return nil
}
