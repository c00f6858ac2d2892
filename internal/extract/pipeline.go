package extract

import (
	"context"

	"github.com/alia-labs/lab-intake-platform/internal/session"
	"github.com/alia-labs/lab-intake-platform/pkg/logging"
)

// Pipeline runs normalization, OCR and structured extraction for one order
// image, and tracks the per-session consecutive-failure counter that drives
// operator escalation.
type Pipeline struct {
	ocr          OCRService
	extractor    FieldExtractor
	maxDimension int
	maxFailures  int
	logger       *logging.Logger
}

// PipelineConfig controls the pipeline.
type PipelineConfig struct {
	MaxImageDimension int
	MaxFailures       int
}

// NewPipeline creates a pipeline over the OCR and extraction collaborators.
func NewPipeline(ocr OCRService, extractor FieldExtractor, cfg PipelineConfig, logger *logging.Logger) *Pipeline {
	if ocr == nil {
		panic("extract: ocr service cannot be nil")
	}
	if extractor == nil {
		panic("extract: field extractor cannot be nil")
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		ocr:          ocr,
		extractor:    extractor,
		maxDimension: cfg.MaxImageDimension,
		maxFailures:  cfg.MaxFailures,
		logger:       logger,
	}
}

// Run processes one order image for the session. On success the extracted
// fields are merged into still-empty session fields and the failure counter
// resets. On failure the counter advances; escalate reports whether the
// session has crossed the escalation threshold.
func (p *Pipeline) Run(ctx context.Context, sess *session.Session, imagePayload string) (escalate bool, err error) {
	defer func() {
		if err == nil {
			sess.OCRFailures = 0
			return
		}
		if ctx.Err() != nil {
			// The webhook event itself died; do not charge the patient's
			// failure budget for it.
			return
		}
		sess.OCRFailures++
		escalate = sess.OCRFailures >= p.maxFailures
		p.logger.Warn("extraction attempt failed",
			"identity", sess.Identity,
			"failures", sess.OCRFailures,
			"escalate", escalate,
			"error", err,
		)
	}()

	normalized, err := NormalizeImage(imagePayload, p.maxDimension)
	if err != nil {
		return false, err
	}

	text, err := p.ocr.Recognize(ctx, normalized)
	if err != nil {
		return false, err
	}

	ex, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return false, err
	}

	Merge(sess, ex)
	return false, nil
}

// MaxFailures exposes the escalation threshold.
func (p *Pipeline) MaxFailures() int {
	return p.maxFailures
}
