// Package predict orchestrates the full prediction pipeline: validation,
// fact extraction, embedding, classification, calibration, attribution,
// likelihoods, judgment mapping and explanation.
package predict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/artifacts"
	"github.com/lexpredict/backend/internal/embedding"
	"github.com/lexpredict/backend/internal/explain"
	"github.com/lexpredict/backend/internal/facts"
	"github.com/lexpredict/backend/internal/judgment"
	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/model"
	"github.com/lexpredict/backend/internal/narrative"
	"github.com/lexpredict/backend/internal/storage/models"
	"github.com/lexpredict/backend/internal/storage/sqlite"
	"github.com/lexpredict/backend/internal/validation"
	"github.com/lexpredict/backend/pkg/logger"
)

const (
	// MaxTextLength caps raw opinion text for prediction.
	MaxTextLength = 50000
	topFeatureK   = 10

	minYear = 1900
	maxYear = 2100
)

// Request is one prediction request. Exactly one of Text or Facts drives the
// prediction; when Facts is non-empty it wins and Text is ignored.
type Request struct {
	Text         string
	Facts        []string
	Court        string
	Jurisdiction string
	NatureOfSuit string
	Year         int
}

// Result is the complete prediction output. Probability and Confidence carry
// the same calibrated value; RawConfidence preserves the uncalibrated model
// output for auditing.
type Result struct {
	ID                 string              `json:"id"`
	Prediction         string              `json:"prediction"`
	LegalJudgment      string              `json:"legal_judgment"`
	Probability        float64             `json:"probability"`
	Confidence         float64             `json:"confidence"`
	RawConfidence      float64             `json:"raw_confidence"`
	Uncertain          bool                `json:"uncertain"`
	ExtractedFacts     []string            `json:"extracted_facts"`
	OutcomeLikelihoods map[string]float64  `json:"outcome_likelihoods"`
	TopFeatures        []model.Attribution `json:"top_features"`
	Explanation        string              `json:"explanation"`
	LatencyMS          int64               `json:"latency_ms"`
}

// Engine runs the pipeline. All dependencies except the artifact store and
// encoder are optional: a nil extractor skips fact extraction, a nil
// explainer produces an empty explanation, a nil db skips audit logging.
type Engine struct {
	store      *artifacts.Store
	encoder    embedding.Encoder
	extractor  *facts.Extractor
	attributor *explain.Attributor
	explainer  *narrative.Explainer
	db         *sqlite.Client
}

func NewEngine(
	store *artifacts.Store,
	encoder embedding.Encoder,
	extractor *facts.Extractor,
	attributor *explain.Attributor,
	explainer *narrative.Explainer,
	db *sqlite.Client,
) *Engine {
	return &Engine{
		store:      store,
		encoder:    encoder,
		extractor:  extractor,
		attributor: attributor,
		explainer:  explainer,
		db:         db,
	}
}

// Predict runs the full pipeline for one request. Core stages (validation,
// embedding, classification, calibration) fail the whole request; enrichment
// stages (facts, attribution, likelihoods, explanation) degrade to empty
// values instead.
func (e *Engine) Predict(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	inputType := "text"
	if len(req.Facts) > 0 {
		inputType = "facts"
	}

	text, extractedFacts, err := e.resolveInput(ctx, req)
	if err != nil {
		if inputErr, ok := err.(*validation.InputError); ok {
			metrics.InputRejected.WithLabelValues(rejectReason(inputErr)).Inc()
		}
		metrics.PredictionTotal.WithLabelValues("none", "rejected").Inc()
		return nil, err
	}

	if req.Year != 0 && (req.Year < minYear || req.Year > maxYear) {
		return nil, validation.NewInputError("Year must be between %d and %d", minYear, maxYear)
	}

	// Optional context fields never rescue invalid text: the model only sees
	// the embedding, so junk text with a plausible nature_of_suit would still
	// produce a meaningless prediction.
	if inputType == "text" {
		if err := validation.Validate(text, validation.DefaultMinLength); err != nil {
			return nil, err
		}
	}

	if err := e.store.EnsureLoaded(); err != nil {
		metrics.PredictionTotal.WithLabelValues("none", "error").Inc()
		return nil, fmt.Errorf("model not available: %w", err)
	}

	embStart := time.Now()
	vec, err := e.encoder.Encode(ctx, text)
	if err != nil {
		metrics.PredictionTotal.WithLabelValues("none", "error").Inc()
		return nil, err
	}
	metrics.EmbeddingDuration.WithLabelValues("primary").Observe(time.Since(embStart).Seconds())

	classifier, _ := e.store.Classifier()
	codec, _ := e.store.LabelCodec()

	labelIdx, err := classifier.Predict(vec)
	if err != nil {
		metrics.PredictionTotal.WithLabelValues("none", "error").Inc()
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	rawLabel, err := codec.InverseTransform(labelIdx)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}

	proba, err := classifier.PredictProba(vec)
	if err != nil {
		metrics.PredictionTotal.WithLabelValues("none", "error").Inc()
		return nil, fmt.Errorf("probability calculation failed: %w", err)
	}
	winProbability := proba[1]

	calibrated, uncertain := model.Calibrate(winProbability, len(text), rawLabel)

	// The calibrated probability is authoritative: the label is re-derived
	// at the 50% threshold and may flip relative to the raw prediction.
	label := model.DeriveLabel(calibrated)

	var topFeatures []model.Attribution
	if e.attributor != nil {
		topFeatures = e.attributor.TopFeatures(classifier, vec, topFeatureK)
	}

	corpus, _ := e.store.Corpus()
	likelihoods := model.OutcomeLikelihoods(corpus, label)

	legalJudgment := judgment.Map(label, req.NatureOfSuit)

	explanation := ""
	if e.explainer != nil {
		explanation = e.explainer.Explain(ctx, narrative.PredictionSummary{
			Label:        label,
			Confidence:   calibrated,
			Probability:  calibrated,
			Likelihoods:  likelihoods,
			TopFeatures:  topFeatures,
			Judgment:     legalJudgment,
			Facts:        extractedFacts,
			Court:        req.Court,
			Jurisdiction: req.Jurisdiction,
			NatureOfSuit: req.NatureOfSuit,
			Year:         req.Year,
		})
	}

	latency := time.Since(start)
	result := &Result{
		ID:                 uuid.New().String(),
		Prediction:         label,
		LegalJudgment:      legalJudgment,
		Probability:        calibrated,
		Confidence:         calibrated,
		RawConfidence:      winProbability,
		Uncertain:          uncertain,
		ExtractedFacts:     extractedFacts,
		OutcomeLikelihoods: likelihoods,
		TopFeatures:        topFeatures,
		Explanation:        explanation,
		LatencyMS:          latency.Milliseconds(),
	}

	metrics.PredictionTotal.WithLabelValues(label, "success").Inc()
	metrics.PredictionConfidence.Observe(calibrated)
	metrics.PredictionDuration.WithLabelValues(inputType).Observe(latency.Seconds())
	if uncertain {
		metrics.UncertainPredictions.Inc()
	}

	e.audit(result, len(text), len(extractedFacts))

	logger.Info("Prediction complete",
		zap.String("id", result.ID),
		zap.String("label", label),
		zap.Float64("probability", calibrated),
		zap.Bool("uncertain", uncertain),
		zap.Int("text_length", len(text)),
		zap.Duration("latency", latency),
	)
	return result, nil
}

// resolveInput picks the prediction text from the request. Provided facts
// bypass extraction but still pass both fact-level and joined-text
// validation; raw text runs the extractor, whose failure is non-fatal.
func (e *Engine) resolveInput(ctx context.Context, req Request) (string, []string, error) {
	if len(req.Facts) > 0 {
		if err := validation.ValidateFacts(req.Facts); err != nil {
			return "", nil, err
		}
		text := validation.JoinFacts(req.Facts)
		if err := validation.Validate(text, validation.FactsMinLength); err != nil {
			return "", nil, err
		}
		return text, req.Facts, nil
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		if req.Text == "" {
			return "", nil, validation.NewInputError("Either text or facts must be provided")
		}
		return "", nil, validation.NewInputError("Text cannot be empty")
	}
	if len(text) > MaxTextLength {
		return "", nil, validation.NewInputError("Text exceeds maximum length of %d characters", MaxTextLength)
	}
	if err := validation.Validate(text, validation.DefaultMinLength); err != nil {
		return "", nil, err
	}

	var extracted []string
	if e.extractor != nil {
		extracted = e.extractor.Extract(ctx, text, req.NatureOfSuit)
	}
	return text, extracted, nil
}

// audit records the prediction for later review. Failures only log: losing
// an audit row must not fail a served prediction.
func (e *Engine) audit(r *Result, textLength, factCount int) {
	if e.db == nil {
		return
	}
	err := e.db.InsertPrediction(&models.PredictionRecord{
		ID:            r.ID,
		TextLength:    textLength,
		Label:         r.Prediction,
		RawConfidence: r.RawConfidence,
		Probability:   r.Probability,
		Uncertain:     r.Uncertain,
		Judgment:      r.LegalJudgment,
		FactCount:     factCount,
		LatencyMS:     r.LatencyMS,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to record prediction", zap.String("id", r.ID), zap.Error(err))
	}
}

// rejectReason buckets validation failures into a low-cardinality metric
// label.
func rejectReason(err *validation.InputError) string {
	msg := strings.ToLower(err.Reason)
	switch {
	case strings.Contains(msg, "empty"):
		return "empty"
	case strings.Contains(msg, "mathematical"):
		return "math"
	// Length rejections must be matched before the legal-content case
	// because their message also mentions legal text.
	case strings.Contains(msg, "must be at least"):
		return "too_short"
	case strings.Contains(msg, "maximum length"):
		return "too_long"
	case strings.Contains(msg, "legal"):
		return "not_legal"
	default:
		return "other"
	}
}
