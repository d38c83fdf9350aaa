package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"github/itish2003/pdfrag/models"
)

// PageExtractor turns one document into its per-page text.
type PageExtractor interface {
	ExtractPages(path string) ([]models.Page, error)
}

// PDFExtractor extracts page text with UniPDF.
type PDFExtractor struct {
	log logrus.FieldLogger
}

// NewPDFExtractor sets the metered UniDoc license when a key is configured.
// Without one UniPDF runs unlicensed and may refuse to extract.
func NewPDFExtractor(licenseKey string, log logrus.FieldLogger) *PDFExtractor {
	log = log.WithField("component", "extractor")
	if licenseKey != "" {
		if err := license.SetMeteredKey(licenseKey); err != nil {
			log.Errorf("EXTRACTOR ERROR: Failed to set Unidoc license key: %v. PDF processing will fail.", err)
		}
	}
	return &PDFExtractor{log: log}
}

// ExtractPages returns one Page per PDF page in page order. Pages without
// text are skipped.
func (e *PDFExtractor) ExtractPages(path string) ([]models.Page, error) {
	if !isPDF(path) {
		return nil, fmt.Errorf("%w: unsupported file type: %s", models.ErrValidation, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pdfReader, err := model.NewPdfReader(f)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("count pages of %s: %w", path, err)
	}

	fileName := filepath.Base(path)
	pages := make([]models.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return nil, fmt.Errorf("read page %d of %s: %w", i, path, err)
		}

		ex, err := extractor.New(page)
		if err != nil {
			return nil, fmt.Errorf("page %d of %s: %w", i, path, err)
		}

		text, err := ex.ExtractText()
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", i, path, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, models.Page{
			SourcePath: path,
			FileName:   fileName,
			Number:     i,
			Text:       text,
		})
	}

	e.log.Debugf("EXTRACTOR: %s yielded %d pages with text", fileName, len(pages))
	return pages, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
