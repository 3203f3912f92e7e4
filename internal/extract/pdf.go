package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFTextProvider reads the embedded text layer of a PDF. Scanned PDFs have
// none and yield an empty string.
type PDFTextProvider struct{}

// NewPDFTextProvider creates a provider.
func NewPDFTextProvider() *PDFTextProvider { return &PDFTextProvider{} }

// Name implements Provider.
func (p *PDFTextProvider) Name() string { return "pdf_text" }

// ExtractText implements Provider.
func (p *PDFTextProvider) ExtractText(ctx context.Context, data []byte, _ string) (text string, err error) {
	// The decoder panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", i, err)
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
