package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/paperbase/paperbase/internal/paperstore"
)

// PDFExtractor pulls the plain-text layer out of a PDF. Scanned papers with
// no text layer fail extraction; OCR is not this component's job.
type PDFExtractor struct{}

func (e *PDFExtractor) Extract(raw []byte, meta paperstore.Paper) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("opening pdf for %s: %w", meta.ID, err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text for %s: %w", meta.ID, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("reading pdf text for %s: %w", meta.ID, err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("pdf for %s has no text layer", meta.ID)
	}
	return text, nil
}
