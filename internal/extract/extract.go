// Package extract turns stored document bytes into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/ledger-intake/internal/common"
	"github.com/Veraticus/ledger-intake/internal/model"
	"github.com/Veraticus/ledger-intake/internal/service"
)

// PlaceholderText stands in for OCR output when every provider failed.
const PlaceholderText = "[OCR unavailable: manual review required]"

// maxDocumentBytes bounds what is read into memory for extraction.
const maxDocumentBytes = 32 << 20

var extractionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_extractions_total",
		Help: "Text extractions by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// Provider extracts text from raw document bytes.
type Provider interface {
	Name() string
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Result is the extracted text and where it came from.
type Result struct {
	Text        string
	Provider    string
	Placeholder bool
}

// Config wires providers into a Service. Nil providers are skipped.
type Config struct {
	Vision   Provider
	OCRSpace Provider
	PDF      Provider
	Retry    service.RetryOptions
}

// Service routes documents to providers by MIME type.
type Service struct {
	reader service.ContentReader
	images []Provider
	pdf    Provider
	pdfOCR Provider
	logger *slog.Logger
	retry  service.RetryOptions
}

// NewService creates an extraction service reading content through reader.
func NewService(reader service.ContentReader, cfg Config, logger *slog.Logger) *Service {
	s := &Service{
		reader: reader,
		pdf:    cfg.PDF,
		pdfOCR: cfg.OCRSpace,
		logger: common.LoggerOrDefault(logger).With("component", "extract"),
		retry:  cfg.Retry,
	}
	if s.pdf == nil {
		s.pdf = NewPDFTextProvider()
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = service.RetryOptions{MaxAttempts: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}
	}
	for _, p := range []Provider{cfg.Vision, cfg.OCRSpace} {
		if p != nil {
			s.images = append(s.images, p)
		}
	}
	return s
}

// Extract reads the object behind ref and returns its text. Images that no
// provider can read yield a placeholder result rather than an error.
func (s *Service) Extract(ctx context.Context, ref model.SignedRef, mimeType string) (Result, error) {
	const op = "extract"
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	if !IsImage(mimeType) && !IsPDF(mimeType) {
		return Result{}, common.NewPipelineError(common.KindExtractionFailure, op,
			"unsupported file type for text extraction", fmt.Errorf("%w: %s", common.ErrUnsupportedType, mimeType))
	}

	data, err := s.read(ctx, ref)
	if err != nil {
		return Result{}, common.NewPipelineError(common.KindExtractionFailure, op, "could not read uploaded file", err)
	}

	if IsPDF(mimeType) {
		return s.extractPDF(ctx, data)
	}
	return s.extractImage(ctx, data, mimeType), nil
}

func (s *Service) read(ctx context.Context, ref model.SignedRef) ([]byte, error) {
	rc, err := s.reader.OpenRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(data) > maxDocumentBytes {
		return nil, errors.New("document exceeds extraction size limit")
	}
	return data, nil
}

func (s *Service) extractImage(ctx context.Context, data []byte, mimeType string) Result {
	for _, p := range s.images {
		text, err := s.call(ctx, p, data, mimeType)
		if err != nil {
			s.logger.Warn("OCR provider failed", "provider", p.Name(), "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			extractionsTotal.WithLabelValues(p.Name(), "empty").Inc()
			continue
		}
		return Result{Text: text, Provider: p.Name()}
	}
	extractionsTotal.WithLabelValues("placeholder", "ok").Inc()
	return Result{Text: PlaceholderText, Provider: "placeholder", Placeholder: true}
}

func (s *Service) extractPDF(ctx context.Context, data []byte) (Result, error) {
	text, err := s.pdf.ExtractText(ctx, data, MimePDF)
	if err == nil && strings.TrimSpace(text) != "" {
		extractionsTotal.WithLabelValues(s.pdf.Name(), "ok").Inc()
		return Result{Text: text, Provider: s.pdf.Name()}, nil
	}
	if err != nil {
		extractionsTotal.WithLabelValues(s.pdf.Name(), "error").Inc()
		s.logger.Warn("PDF text extraction failed", "error", err)
	}

	if s.pdfOCR != nil {
		ocrText, ocrErr := s.call(ctx, s.pdfOCR, data, MimePDF)
		if ocrErr == nil && strings.TrimSpace(ocrText) != "" {
			return Result{Text: ocrText, Provider: s.pdfOCR.Name()}, nil
		}
		if ocrErr != nil {
			s.logger.Warn("PDF OCR fallback failed", "provider", s.pdfOCR.Name(), "error", ocrErr)
		}
	}

	if err != nil {
		return Result{}, common.NewPipelineError(common.KindExtractionFailure, "extract", "the PDF could not be read", err)
	}
	return Result{Text: "", Provider: s.pdf.Name()}, nil
}

func (s *Service) call(ctx context.Context, p Provider, data []byte, mimeType string) (string, error) {
	var text string
	err := common.WithRetry(ctx, func() error {
		var err error
		text, err = p.ExtractText(ctx, data, mimeType)
		return err
	}, s.retry)
	if err != nil {
		extractionsTotal.WithLabelValues(p.Name(), "error").Inc()
		return "", err
	}
	extractionsTotal.WithLabelValues(p.Name(), "ok").Inc()
	return text, nil
}

// MimePDF is the PDF media type.
const MimePDF = "application/pdf"

// IsImage reports whether mimeType is an image type.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

// IsPDF reports whether mimeType is PDF.
func IsPDF(mimeType string) bool {
	return strings.EqualFold(mimeType, MimePDF)
}
