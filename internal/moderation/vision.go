package moderation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/petgo/apiserver/config"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

// VisionAnalyzer classifies images through the Google Cloud Vision
// SafeSearch detection API.
type VisionAnalyzer struct {
	service *vision.Service
}

// NewVisionAnalyzer constructs a Vision-backed analyzer from config.
func NewVisionAnalyzer(ctx context.Context, cfg config.VisionConfig) (*VisionAnalyzer, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	service, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &VisionAnalyzer{service: service}, nil
}

// Classify runs SafeSearch detection on the image bytes.
func (v *VisionAnalyzer) Classify(ctx context.Context, image []byte) (Result, error) {
	if len(image) == 0 {
		return Result{}, errors.New("image is empty")
	}

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Image: &vision.Image{
					Content: base64.StdEncoding.EncodeToString(image),
				},
				Features: []*vision.Feature{
					{Type: "SAFE_SEARCH_DETECTION"},
				},
			},
		},
	}

	resp, err := v.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return Result{}, err
	}
	if len(resp.Responses) == 0 {
		return Result{}, errors.New("empty safe search response")
	}

	annotated := resp.Responses[0]
	if annotated.Error != nil {
		return Result{}, errors.New(annotated.Error.Message)
	}
	annotation := annotated.SafeSearchAnnotation
	if annotation == nil {
		return Result{}, errors.New("missing safe search annotation")
	}

	return Result{
		Adult:    ParseLikelihood(annotation.Adult),
		Violence: ParseLikelihood(annotation.Violence),
		Racy:     ParseLikelihood(annotation.Racy),
	}, nil
}
