package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/infrastructure/resilience"
)

const defaultMaxLabels = 10

type Config struct {
	APIKey    string
	Endpoint  string
	MaxLabels int64
}

// CloudVision labels images and reads their text with the Cloud Vision
// images:annotate method, in one request per image.
type CloudVision struct {
	service   *vision.Service
	maxLabels int64
	executor  *resilience.Executor
}

func NewCloudVision(ctx context.Context, cfg Config, executor *resilience.Executor) (*CloudVision, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(cfg.Endpoint, "/")+"/"))
	}
	service, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}
	maxLabels := cfg.MaxLabels
	if maxLabels <= 0 {
		maxLabels = defaultMaxLabels
	}
	return &CloudVision{service: service, maxLabels: maxLabels, executor: executor}, nil
}

func (c *CloudVision) Available() bool {
	return c != nil && c.service != nil
}

func (c *CloudVision) Annotate(ctx context.Context, image []byte, _ string) (domain.VisualAnnotation, error) {
	return resilience.Call(ctx, c.executor, "vision.annotate", func(callCtx context.Context) (domain.VisualAnnotation, error) {
		return c.annotate(callCtx, image)
	}, classifyVisionError)
}

func (c *CloudVision) annotate(ctx context.Context, image []byte) (domain.VisualAnnotation, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{
				{Type: "LABEL_DETECTION", MaxResults: c.maxLabels},
				{Type: "TEXT_DETECTION"},
			},
		}},
	}

	resp, err := c.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return domain.VisualAnnotation{}, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return domain.VisualAnnotation{}, domain.WrapError(domain.ErrMalformedResponse, "vision annotate", errors.New("empty response"))
	}

	result := resp.Responses[0]
	if result.Error != nil && result.Error.Code != 0 {
		// Per-image errors are about the input (for example an undecodable
		// image), not about the service being down.
		return domain.VisualAnnotation{}, domain.WrapError(
			domain.ErrMalformedResponse,
			"vision annotate",
			fmt.Errorf("image error %d: %s", result.Error.Code, result.Error.Message),
		)
	}

	out := domain.VisualAnnotation{Labels: make([]domain.Label, 0, len(result.LabelAnnotations))}
	for _, label := range result.LabelAnnotations {
		if label == nil || strings.TrimSpace(label.Description) == "" {
			continue
		}
		out.Labels = append(out.Labels, domain.Label{Text: label.Description, Score: label.Score})
	}
	switch {
	case result.FullTextAnnotation != nil:
		out.OCRText = result.FullTextAnnotation.Text
	case len(result.TextAnnotations) > 0 && result.TextAnnotations[0] != nil:
		out.OCRText = result.TextAnnotations[0].Description
	}
	return out, nil
}

func classifyVisionError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if resilience.CallerCanceled(err) || domain.IsKind(err, domain.ErrMalformedResponse) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// Unavailable is used when no visual-label service is configured. The visual
// tier then reports TierErrorKind "unavailable" for every image.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Annotate(context.Context, []byte, string) (domain.VisualAnnotation, error) {
	return domain.VisualAnnotation{}, domain.ErrClassifierUnavailable
}
