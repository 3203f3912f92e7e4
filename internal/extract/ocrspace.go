package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/ledger-intake/internal/common"
)

const ocrSpaceURL = "https://api.ocr.space/parse/image"

// OCRSpaceProvider calls the OCR.space parse API. It accepts images and PDFs.
type OCRSpaceProvider struct {
	httpClient *http.Client
	apiKey     string
	url        string
}

// NewOCRSpaceProvider creates a provider. An empty url uses the public API.
func NewOCRSpaceProvider(apiKey, url string) (*OCRSpaceProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: ocr.space api key", common.ErrMissingConfig)
	}
	if url == "" {
		url = ocrSpaceURL
	}
	return &OCRSpaceProvider{
		apiKey:     apiKey,
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type ocrSpaceResponse struct {
	ErrorMessage  any `json:"ErrorMessage"`
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
}

// Name implements Provider.
func (p *OCRSpaceProvider) Name() string { return "ocr_space" }

// ExtractText implements Provider.
func (p *OCRSpaceProvider) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"apikey":            p.apiKey,
		"language":          "eng",
		"isOverlayRequired": "false",
		"detectOrientation": "true",
		"scale":             "true",
		"OCREngine":         "2",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to build request: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "document"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr.space request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", common.ProviderStatus("ocr.space", resp.StatusCode, "")
	}

	var parsed ocrSpaceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.IsErroredOnProcessing {
		return "", common.Permanent(errors.New("ocr.space: " + errorText(parsed.ErrorMessage)))
	}

	var sb strings.Builder
	for _, r := range parsed.ParsedResults {
		sb.WriteString(r.ParsedText)
	}
	return sb.String(), nil
}

// errorText flattens ErrorMessage, which the API sends as a string or a list.
func errorText(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	default:
		return "processing failed"
	}
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case MimePDF:
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
