package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/Veraticus/ledger-intake/internal/common"
)

// VisionConfig configures Google Cloud Vision. Either APIKey or
// CredentialsFile (a service account key) must be set.
type VisionConfig struct {
	APIKey          string
	CredentialsFile string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// VisionProvider runs DOCUMENT_TEXT_DETECTION on images.
type VisionProvider struct {
	svc *vision.Service
}

// NewVisionProvider creates a Vision client.
func NewVisionProvider(ctx context.Context, cfg VisionConfig) (*VisionProvider, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		jsonKey, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, vision.CloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(oauth2.NewClient(ctx, jwtConfig.TokenSource(ctx))))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("%w: vision api key or credentials file", common.ErrMissingConfig)
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create vision service: %w", err)
	}
	return &VisionProvider{svc: svc}, nil
}

// Name implements Provider.
func (p *VisionProvider) Name() string { return "google_vision" }

// ExtractText implements Provider.
func (p *VisionProvider) ExtractText(ctx context.Context, data []byte, _ string) (string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(data)},
			Features: []*vision.Feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
		}},
	}
	resp, err := p.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", common.ProviderStatus("vision", apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("vision annotate failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return "", common.Permanent(errors.New("vision: " + r.Error.Message))
	}
	if r.FullTextAnnotation != nil {
		return r.FullTextAnnotation.Text, nil
	}
	if len(r.TextAnnotations) > 0 {
		return r.TextAnnotations[0].Description, nil
	}
	return "", nil
}
