package model

import (
	"fmt"
	"math"
	"sort"
)

const (
	LabelLose = "lose"
	LabelWin  = "win"
)

// Classifier is the trained-model consumption contract. Implementations are
// immutable once loaded and shared read-only across requests.
type Classifier interface {
	Family() string
	Dimension() int
	// Predict returns the class index of the most probable label.
	Predict(embedding []float32) (int, error)
	// PredictProba returns [p_lose, p_win].
	PredictProba(embedding []float32) ([2]float64, error)
}

// Attribution ranks one embedding dimension by its importance for a single
// prediction. Importance is a non-negative magnitude; Contribution keeps the
// sign.
type Attribution struct {
	Dimension    int
	Importance   float64
	Contribution float64
}

// Attributor is implemented by classifier families that can explain their own
// predictions with a family-specific heuristic. Families without one fall
// back to uniform importance in the explain package.
type Attributor interface {
	Attribute(embedding []float32, topK int) []Attribution
}

// LabelCodec maps classifier output indices to outcome labels. The training
// pipeline encodes classes alphabetically, so index 0 must be "lose" and
// index 1 "win"; NewLabelCodec verifies that instead of assuming it.
type LabelCodec struct {
	classes []string
}

func NewLabelCodec(classes []string) (*LabelCodec, error) {
	if len(classes) != 2 || classes[0] != LabelLose || classes[1] != LabelWin {
		return nil, fmt.Errorf("unexpected label encoding %v: want [%s %s]", classes, LabelLose, LabelWin)
	}
	return &LabelCodec{classes: classes}, nil
}

func (c *LabelCodec) InverseTransform(index int) (string, error) {
	if index < 0 || index >= len(c.classes) {
		return "", fmt.Errorf("label index %d out of range", index)
	}
	return c.classes[index], nil
}

func checkDimension(embedding []float32, dim int) error {
	if len(embedding) != dim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), dim)
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// LinearClassifier is a binary logistic regression over the embedding space.
type LinearClassifier struct {
	Coef      []float64
	Intercept float64
}

func (m *LinearClassifier) Family() string { return "linear" }

func (m *LinearClassifier) Dimension() int { return len(m.Coef) }

func (m *LinearClassifier) PredictProba(embedding []float32) ([2]float64, error) {
	if err := checkDimension(embedding, len(m.Coef)); err != nil {
		return [2]float64{}, err
	}

	z := m.Intercept
	for i, c := range m.Coef {
		z += c * float64(embedding[i])
	}

	pWin := sigmoid(z)
	return [2]float64{1 - pWin, pWin}, nil
}

func (m *LinearClassifier) Predict(embedding []float32) (int, error) {
	proba, err := m.PredictProba(embedding)
	if err != nil {
		return 0, err
	}
	if proba[1] >= proba[0] {
		return 1, nil
	}
	return 0, nil
}

// Attribute ranks dimensions by coefficient magnitude; the signed coefficient
// doubles as the contribution estimate.
func (m *LinearClassifier) Attribute(embedding []float32, topK int) []Attribution {
	attrs := make([]Attribution, len(m.Coef))
	for i, c := range m.Coef {
		attrs[i] = Attribution{
			Dimension:    i,
			Importance:   math.Abs(c),
			Contribution: c,
		}
	}
	return topAttributions(attrs, topK)
}

// TreeNode is one node of a serialized decision tree. Leaf nodes have
// Feature == -1 and carry a [p_lose, p_win] distribution.
type TreeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     [2]float64
}

type Tree struct {
	Nodes []TreeNode
}

func (t *Tree) proba(embedding []float32) [2]float64 {
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return node.Value
		}
		if float64(embedding[node.Feature]) <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// TreeEnsembleClassifier averages leaf class distributions across trees
// (random forest style).
type TreeEnsembleClassifier struct {
	Trees              []Tree
	FeatureImportances []float64
}

func (m *TreeEnsembleClassifier) Family() string { return "tree_ensemble" }

func (m *TreeEnsembleClassifier) Dimension() int { return len(m.FeatureImportances) }

func (m *TreeEnsembleClassifier) PredictProba(embedding []float32) ([2]float64, error) {
	if err := checkDimension(embedding, m.Dimension()); err != nil {
		return [2]float64{}, err
	}
	if len(m.Trees) == 0 {
		return [2]float64{}, fmt.Errorf("tree ensemble has no trees")
	}

	var sum [2]float64
	for i := range m.Trees {
		p := m.Trees[i].proba(embedding)
		sum[0] += p[0]
		sum[1] += p[1]
	}

	n := float64(len(m.Trees))
	return [2]float64{sum[0] / n, sum[1] / n}, nil
}

func (m *TreeEnsembleClassifier) Predict(embedding []float32) (int, error) {
	proba, err := m.PredictProba(embedding)
	if err != nil {
		return 0, err
	}
	if proba[1] >= proba[0] {
		return 1, nil
	}
	return 0, nil
}

// Attribute ranks dimensions by trained feature importance and estimates each
// contribution by zeroing the feature and measuring the win-probability drop.
func (m *TreeEnsembleClassifier) Attribute(embedding []float32, topK int) []Attribution {
	attrs := make([]Attribution, len(m.FeatureImportances))
	for i, imp := range m.FeatureImportances {
		attrs[i] = Attribution{Dimension: i, Importance: imp}
	}
	attrs = topAttributions(attrs, topK)

	baseline, err := m.PredictProba(embedding)
	if err != nil {
		return attrs
	}

	permuted := make([]float32, len(embedding))
	for i := range attrs {
		copy(permuted, embedding)
		permuted[attrs[i].Dimension] = 0
		p, err := m.PredictProba(permuted)
		if err != nil {
			continue
		}
		attrs[i].Contribution = baseline[1] - p[1]
	}

	return attrs
}

// DenseLayer holds row-major weights: Weights[i][j] connects input i to
// unit j.
type DenseLayer struct {
	Weights    [][]float64
	Biases     []float64
	Activation string
}

// NeuralClassifier is a small feed-forward network ending in a 2-way softmax
// or single sigmoid unit.
type NeuralClassifier struct {
	Layers []DenseLayer
}

func (m *NeuralClassifier) Family() string { return "neural" }

func (m *NeuralClassifier) Dimension() int {
	if len(m.Layers) == 0 {
		return 0
	}
	return len(m.Layers[0].Weights)
}

func (m *NeuralClassifier) PredictProba(embedding []float32) ([2]float64, error) {
	if err := checkDimension(embedding, m.Dimension()); err != nil {
		return [2]float64{}, err
	}

	activ := make([]float64, len(embedding))
	for i, v := range embedding {
		activ[i] = float64(v)
	}

	for li := range m.Layers {
		layer := &m.Layers[li]
		out := make([]float64, len(layer.Biases))
		for j := range out {
			z := layer.Biases[j]
			for i := range activ {
				z += activ[i] * layer.Weights[i][j]
			}
			out[j] = z
		}
		if li < len(m.Layers)-1 {
			applyActivation(out, layer.Activation)
		}
		activ = out
	}

	switch len(activ) {
	case 1:
		pWin := sigmoid(activ[0])
		return [2]float64{1 - pWin, pWin}, nil
	case 2:
		return softmax2(activ[0], activ[1]), nil
	default:
		return [2]float64{}, fmt.Errorf("unexpected output width %d", len(activ))
	}
}

func (m *NeuralClassifier) Predict(embedding []float32) (int, error) {
	proba, err := m.PredictProba(embedding)
	if err != nil {
		return 0, err
	}
	if proba[1] >= proba[0] {
		return 1, nil
	}
	return 0, nil
}

// Attribute uses the first layer: importance is the mean absolute weight out
// of each input, contribution that mean weight scaled by the feature value.
func (m *NeuralClassifier) Attribute(embedding []float32, topK int) []Attribution {
	if len(m.Layers) == 0 {
		return nil
	}

	first := &m.Layers[0]
	attrs := make([]Attribution, len(first.Weights))
	for i, row := range first.Weights {
		var absSum, sum float64
		for _, w := range row {
			absSum += math.Abs(w)
			sum += w
		}
		n := float64(len(row))
		meanAbs := absSum / n
		mean := sum / n
		attrs[i] = Attribution{
			Dimension:    i,
			Importance:   meanAbs,
			Contribution: mean * float64(embedding[i]),
		}
	}
	return topAttributions(attrs, topK)
}

func applyActivation(v []float64, name string) {
	switch name {
	case "tanh":
		for i := range v {
			v[i] = math.Tanh(v[i])
		}
	case "logistic":
		for i := range v {
			v[i] = sigmoid(v[i])
		}
	default: // relu
		for i := range v {
			if v[i] < 0 {
				v[i] = 0
			}
		}
	}
}

func softmax2(a, b float64) [2]float64 {
	m := math.Max(a, b)
	ea := math.Exp(a - m)
	eb := math.Exp(b - m)
	return [2]float64{ea / (ea + eb), eb / (ea + eb)}
}

// topAttributions sorts descending by importance with a stable tie-break on
// dimension and truncates to k.
func topAttributions(attrs []Attribution, k int) []Attribution {
	sorted := make([]Attribution, len(attrs))
	copy(sorted, attrs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance > sorted[j].Importance
	})
	if k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}
