package explain

import (
	"sort"

	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/model"
	"github.com/lexpredict/backend/pkg/logger"
)

// Attributor explains a single prediction by ranking embedding dimensions.
// It prefers an exact explainer where the model family admits one and falls
// back to the family's own heuristic, then to uniform importance, so a caller
// always gets a usable (if coarser) attribution list.
type Attributor struct {
	// background holds per-dimension means of the training corpus embeddings
	// and anchors the linear explainer. May be nil.
	background []float64
}

func NewAttributor(background []float64) *Attributor {
	return &Attributor{background: background}
}

// TopFeatures returns at most topK attributions sorted by descending
// importance. The exact explainer is always attempted first; there is no
// toggle because no caller ever wants the coarser heuristic when the exact
// path is available. It never fails: a prediction with no explanation is
// still a valid prediction.
func (a *Attributor) TopFeatures(clf model.Classifier, embedding []float32, topK int) []model.Attribution {
	if clf == nil || topK <= 0 {
		return nil
	}
	dim := clf.Dimension()
	if topK > dim {
		topK = dim
	}

	if attrs := a.exact(clf, embedding, topK); attrs != nil {
		return attrs
	}

	if heuristic, ok := clf.(model.Attributor); ok {
		if attrs := heuristic.Attribute(embedding, topK); len(attrs) > 0 {
			return attrs
		}
	}

	logger.Warn("No explainer available for model family, using uniform importance",
		zap.String("family", clf.Family()),
	)
	return uniform(dim, topK)
}

func (a *Attributor) exact(clf model.Classifier, embedding []float32, topK int) []model.Attribution {
	switch m := clf.(type) {
	case *model.LinearClassifier:
		return a.linearContributions(m, embedding, topK)
	case *model.TreeEnsembleClassifier:
		return occlusion(m, embedding, topK)
	case *model.NeuralClassifier:
		return occlusion(m, embedding, topK)
	default:
		return nil
	}
}

// linearContributions scores each dimension as coef * (x - mean), the exact
// per-feature additive contribution to the logit relative to the corpus
// background. Without a background it degrades to the coefficient heuristic.
func (a *Attributor) linearContributions(m *model.LinearClassifier, embedding []float32, topK int) []model.Attribution {
	if len(a.background) != len(m.Coef) || len(embedding) != len(m.Coef) {
		return nil
	}

	attrs := make([]model.Attribution, len(m.Coef))
	for i, coef := range m.Coef {
		contribution := coef * (float64(embedding[i]) - a.background[i])
		attrs[i] = model.Attribution{
			Dimension:    i,
			Importance:   abs(contribution),
			Contribution: contribution,
		}
	}
	return top(attrs, topK)
}

// occlusion measures each dimension by the drop in win probability when that
// dimension is zeroed out. Model-agnostic but O(dim) predictions, so it only
// runs for single-prediction explanations, never in batch paths.
func occlusion(clf model.Classifier, embedding []float32, topK int) []model.Attribution {
	baseline, err := clf.PredictProba(embedding)
	if err != nil {
		return nil
	}

	occluded := make([]float32, len(embedding))
	copy(occluded, embedding)

	attrs := make([]model.Attribution, len(embedding))
	for i := range embedding {
		occluded[i] = 0
		proba, err := clf.PredictProba(occluded)
		occluded[i] = embedding[i]
		if err != nil {
			return nil
		}

		contribution := baseline[1] - proba[1]
		attrs[i] = model.Attribution{
			Dimension:    i,
			Importance:   abs(contribution),
			Contribution: contribution,
		}
	}
	return top(attrs, topK)
}

func uniform(dim, topK int) []model.Attribution {
	attrs := make([]model.Attribution, topK)
	for i := range attrs {
		attrs[i] = model.Attribution{Dimension: i, Importance: 1.0 / float64(dim)}
	}
	return attrs
}

func top(attrs []model.Attribution, k int) []model.Attribution {
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Importance > attrs[j].Importance
	})
	if len(attrs) > k {
		attrs = attrs[:k]
	}
	return attrs
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
