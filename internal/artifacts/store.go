package artifacts

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/model"
	"github.com/lexpredict/backend/internal/storage/models"
	"github.com/lexpredict/backend/internal/storage/sqlite"
	"github.com/lexpredict/backend/pkg/config"
	"github.com/lexpredict/backend/pkg/logger"
)

// ErrArtifactMissing signals that a required trained artifact is absent.
// Callers should map it to a "service not ready, train first" response
// rather than a generic failure.
var ErrArtifactMissing = errors.New("artifact missing")

// Store loads the trained classifier, label codec, precomputed corpus
// embedding matrix and corpus metadata once per process and serves them
// read-only afterwards. Initialization is serialized behind a mutex so
// concurrent first access never observes a partially loaded store.
type Store struct {
	cfg config.ArtifactsConfig
	db  *sqlite.Client

	mu         sync.Mutex
	loaded     bool
	classifier model.Classifier
	codec      *model.LabelCodec
	matrix     [][]float32
	corpus     []models.CorpusRecord
}

func NewStore(cfg config.ArtifactsConfig, db *sqlite.Client) *Store {
	return &Store{cfg: cfg, db: db}
}

// NewStoreFromParts builds a pre-loaded store. Tests use it to inject fake
// artifacts without touching the filesystem.
func NewStoreFromParts(classifier model.Classifier, codec *model.LabelCodec, matrix [][]float32, corpus []models.CorpusRecord) *Store {
	return &Store{
		loaded:     true,
		classifier: classifier,
		codec:      codec,
		matrix:     matrix,
		corpus:     corpus,
	}
}

// EnsureLoaded is idempotent; the first caller pays the load cost.
func (s *Store) EnsureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	classifier, err := s.loadClassifier()
	if err != nil {
		return err
	}

	codec, err := s.loadLabelCodec()
	if err != nil {
		return err
	}

	matrix, err := s.loadEmbeddings()
	if err != nil {
		return err
	}

	corpus, err := s.db.LoadCorpus()
	if err != nil {
		return fmt.Errorf("failed to load corpus metadata: %w", err)
	}
	if len(corpus) == 0 {
		return fmt.Errorf("%w: corpus metadata table is empty", ErrArtifactMissing)
	}

	// Row i of the matrix must describe corpus record i. A count mismatch
	// means the artifacts were produced by different training runs.
	if len(corpus) != len(matrix) {
		return fmt.Errorf("corpus/embedding misalignment: %d metadata rows vs %d embedding rows", len(corpus), len(matrix))
	}

	if dim := classifier.Dimension(); len(matrix) > 0 && len(matrix[0]) != dim {
		return fmt.Errorf("classifier dimension %d does not match embedding dimension %d", dim, len(matrix[0]))
	}

	s.classifier = classifier
	s.codec = codec
	s.matrix = matrix
	s.corpus = corpus
	s.loaded = true

	logger.Info("Artifacts loaded",
		zap.String("family", classifier.Family()),
		zap.Int("corpus_size", len(corpus)),
		zap.Int("dimension", classifier.Dimension()),
	)

	return nil
}

func (s *Store) Classifier() (model.Classifier, error) {
	if err := s.EnsureLoaded(); err != nil {
		return nil, err
	}
	return s.classifier, nil
}

func (s *Store) LabelCodec() (*model.LabelCodec, error) {
	if err := s.EnsureLoaded(); err != nil {
		return nil, err
	}
	return s.codec, nil
}

func (s *Store) Embeddings() ([][]float32, error) {
	if err := s.EnsureLoaded(); err != nil {
		return nil, err
	}
	return s.matrix, nil
}

func (s *Store) Corpus() ([]models.CorpusRecord, error) {
	if err := s.EnsureLoaded(); err != nil {
		return nil, err
	}
	return s.corpus, nil
}

type classifierManifest struct {
	Family string `json:"family"`

	Linear *struct {
		Coef      []float64 `json:"coef"`
		Intercept float64   `json:"intercept"`
	} `json:"linear,omitempty"`

	TreeEnsemble *struct {
		FeatureImportances []float64 `json:"feature_importances"`
		Trees              []struct {
			Nodes []struct {
				Feature   int        `json:"feature"`
				Threshold float64    `json:"threshold"`
				Left      int        `json:"left"`
				Right     int        `json:"right"`
				Value     [2]float64 `json:"value"`
			} `json:"nodes"`
		} `json:"trees"`
	} `json:"tree_ensemble,omitempty"`

	Neural *struct {
		Layers []struct {
			Weights    [][]float64 `json:"weights"`
			Biases     []float64   `json:"biases"`
			Activation string      `json:"activation"`
		} `json:"layers"`
	} `json:"neural,omitempty"`
}

func (s *Store) loadClassifier() (model.Classifier, error) {
	path := filepath.Join(s.cfg.Dir, s.cfg.ClassifierFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: classifier file %s", ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("failed to read classifier: %w", err)
	}

	var manifest classifierManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse classifier manifest: %w", err)
	}

	switch manifest.Family {
	case "linear":
		if manifest.Linear == nil || len(manifest.Linear.Coef) == 0 {
			return nil, fmt.Errorf("classifier manifest missing linear parameters")
		}
		return &model.LinearClassifier{
			Coef:      manifest.Linear.Coef,
			Intercept: manifest.Linear.Intercept,
		}, nil

	case "tree_ensemble":
		te := manifest.TreeEnsemble
		if te == nil || len(te.Trees) == 0 {
			return nil, fmt.Errorf("classifier manifest missing tree ensemble parameters")
		}
		trees := make([]model.Tree, len(te.Trees))
		for i, t := range te.Trees {
			nodes := make([]model.TreeNode, len(t.Nodes))
			for j, n := range t.Nodes {
				nodes[j] = model.TreeNode{
					Feature:   n.Feature,
					Threshold: n.Threshold,
					Left:      n.Left,
					Right:     n.Right,
					Value:     n.Value,
				}
			}
			trees[i] = model.Tree{Nodes: nodes}
		}
		return &model.TreeEnsembleClassifier{
			Trees:              trees,
			FeatureImportances: te.FeatureImportances,
		}, nil

	case "neural":
		nn := manifest.Neural
		if nn == nil || len(nn.Layers) == 0 {
			return nil, fmt.Errorf("classifier manifest missing neural parameters")
		}
		layers := make([]model.DenseLayer, len(nn.Layers))
		for i, l := range nn.Layers {
			layers[i] = model.DenseLayer{
				Weights:    l.Weights,
				Biases:     l.Biases,
				Activation: l.Activation,
			}
		}
		return &model.NeuralClassifier{Layers: layers}, nil

	default:
		return nil, fmt.Errorf("unknown classifier family %q", manifest.Family)
	}
}

func (s *Store) loadLabelCodec() (*model.LabelCodec, error) {
	path := filepath.Join(s.cfg.Dir, s.cfg.EncoderFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: label encoder file %s", ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("failed to read label encoder: %w", err)
	}

	var manifest struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse label encoder: %w", err)
	}

	codec, err := model.NewLabelCodec(manifest.Classes)
	if err != nil {
		return nil, fmt.Errorf("invalid label encoder: %w", err)
	}
	return codec, nil
}

// Embedding matrix format: uint32 row count, uint32 dimension, then
// row-major float32 values, all little endian.
func (s *Store) loadEmbeddings() ([][]float32, error) {
	path := filepath.Join(s.cfg.Dir, s.cfg.EmbeddingsFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: embeddings file %s", ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("failed to open embeddings: %w", err)
	}
	defer f.Close()

	return ReadMatrix(f)
}

func ReadMatrix(r io.Reader) ([][]float32, error) {
	var header struct {
		Rows uint32
		Dim  uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read embeddings header: %w", err)
	}
	if header.Rows == 0 || header.Dim == 0 {
		return nil, fmt.Errorf("embeddings file declares empty matrix %dx%d", header.Rows, header.Dim)
	}

	flat := make([]float32, int(header.Rows)*int(header.Dim))
	if err := binary.Read(r, binary.LittleEndian, &flat); err != nil {
		return nil, fmt.Errorf("failed to read embeddings data: %w", err)
	}

	matrix := make([][]float32, header.Rows)
	for i := range matrix {
		matrix[i] = flat[i*int(header.Dim) : (i+1)*int(header.Dim)]
	}
	return matrix, nil
}

// WriteMatrix is the producer side of the embeddings format, used by the
// corpus import tooling and tests.
func WriteMatrix(w io.Writer, matrix [][]float32) error {
	if len(matrix) == 0 || len(matrix[0]) == 0 {
		return fmt.Errorf("refusing to write empty embedding matrix")
	}

	header := struct {
		Rows uint32
		Dim  uint32
	}{Rows: uint32(len(matrix)), Dim: uint32(len(matrix[0]))}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write embeddings header: %w", err)
	}

	for i, row := range matrix {
		if len(row) != int(header.Dim) {
			return fmt.Errorf("row %d has dimension %d, want %d", i, len(row), header.Dim)
		}
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("failed to write embeddings row %d: %w", i, err)
		}
	}

	return nil
}

// Mean returns the per-dimension mean of the corpus matrix. The linear
// explainer uses it as the attribution background.
func Mean(matrix [][]float32) []float64 {
	if len(matrix) == 0 {
		return nil
	}

	mean := make([]float64, len(matrix[0]))
	for _, row := range matrix {
		for i, v := range row {
			mean[i] += float64(v)
		}
	}
	n := float64(len(matrix))
	for i := range mean {
		mean[i] /= n
		if math.IsNaN(mean[i]) {
			mean[i] = 0
		}
	}
	return mean
}
