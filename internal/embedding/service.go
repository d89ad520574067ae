package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	rediscache "github.com/lexpredict/backend/internal/cache/redis"
	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/validation"
	"github.com/lexpredict/backend/pkg/config"
	"github.com/lexpredict/backend/pkg/logger"
	"github.com/lexpredict/backend/pkg/retry"
	"github.com/lexpredict/backend/pkg/utils"
)

const (
	// MaxTextLength guards the encoder against oversized inputs.
	MaxTextLength = 10000
	minBatchSize  = 1
	maxBatchSize  = 32
)

// Encoder turns legal text into fixed-dimension dense vectors. All vectors
// produced by one Encoder share the same dimensionality.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimension() int
}

// RawEncoder embeds arbitrary prose without the legal-content gate. The
// documentation index embeds markdown chunks and user questions that are not
// case text and must not be rejected for lacking legal keywords.
type RawEncoder interface {
	EncodeRaw(ctx context.Context, text string) ([]float32, error)
	EncodeRawBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimension() int
}

type embeddingsAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Service encodes text through an OpenAI-compatible embeddings API using the
// legal model first and a general-purpose model when the legal one fails.
// Encode and EncodeBatch re-validate case text as a safety net even when
// callers already did, so a bypassed gate upstream can never produce
// embeddings for junk text. EncodeRaw and EncodeRawBatch skip that gate for
// non-case content such as documentation.
type Service struct {
	apiKey        string
	baseURL       string
	primaryModel  string
	fallbackModel string
	dim           int
	retryCfg      retry.Config
	cache         *rediscache.Client
	cacheTTL      time.Duration

	initOnce sync.Once
	api      embeddingsAPI
}

func NewService(cfg config.LLMConfig, cache *rediscache.Client) *Service {
	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger.GetLogger()

	return &Service{
		apiKey:        cfg.APIKey,
		baseURL:       cfg.BaseURL,
		primaryModel:  cfg.EmbeddingModel,
		fallbackModel: cfg.FallbackModel,
		dim:           cfg.EmbeddingDim,
		retryCfg:      retryCfg,
		cache:         cache,
		cacheTTL:      time.Duration(cfg.EmbeddingTTLSec) * time.Second,
	}
}

// newServiceWithAPI injects a fake API for tests.
func newServiceWithAPI(api embeddingsAPI, primaryModel, fallbackModel string, dim int) *Service {
	s := &Service{
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
		dim:           dim,
		retryCfg:      retry.Config{MaxAttempts: 1},
	}
	s.initOnce.Do(func() { s.api = api })
	return s
}

func (s *Service) Dimension() int {
	return s.dim
}

// client construction is cheap but guarded anyway so concurrent first calls
// share one instance.
func (s *Service) ensureClient() {
	s.initOnce.Do(func() {
		clientCfg := openai.DefaultConfig(s.apiKey)
		if s.baseURL != "" {
			clientCfg.BaseURL = s.baseURL
		}
		s.api = openai.NewClientWithConfig(clientCfg)
		logger.Info("Embedding client initialized",
			zap.String("model", s.primaryModel),
			zap.String("fallback_model", s.fallbackModel),
			zap.Int("dimension", s.dim),
		)
	})
}

func (s *Service) Encode(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validation.NewInputError("Text cannot be empty")
	}
	if len(text) > MaxTextLength {
		return nil, validation.NewInputError("Text exceeds maximum length of %d characters", MaxTextLength)
	}
	if err := validation.Validate(text, validation.FactsMinLength); err != nil {
		return nil, err
	}

	if s.cache != nil {
		key := utils.HashString(s.primaryModel + ":" + text)
		if vec, ok, err := s.cache.GetEmbedding(ctx, key); err == nil && ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return vec, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	vectors, err := s.encodeValidated(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := vectors[0]

	if s.cache != nil {
		key := utils.HashString(s.primaryModel + ":" + text)
		if err := s.cache.SetEmbedding(ctx, key, vec, s.cacheTTL); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return vec, nil
}

func (s *Service) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, validation.NewInputError("Texts list cannot be empty")
	}
	if batchSize < minBatchSize || batchSize > maxBatchSize {
		return nil, validation.NewInputError("batch_size must be between %d and %d", minBatchSize, maxBatchSize)
	}

	validated := make([]string, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, validation.NewInputError("Text at index %d cannot be empty", i)
		}
		if len(text) > MaxTextLength {
			return nil, validation.NewInputError("Text at index %d exceeds maximum length", i)
		}
		if err := validation.Validate(text, validation.FactsMinLength); err != nil {
			return nil, validation.NewInputError("Text at index %d is invalid: %s", i, err.Error())
		}
		validated[i] = text
	}

	var vectors [][]float32
	for start := 0; start < len(validated); start += batchSize {
		end := start + batchSize
		if end > len(validated) {
			end = len(validated)
		}

		batch, err := s.encodeValidated(ctx, validated[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(vectors)))
	return vectors, nil
}

// EncodeRaw embeds text with only emptiness and size checks. Documentation
// content goes through here; the legal-content gate applies to case text
// alone.
func (s *Service) EncodeRaw(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validation.NewInputError("Text cannot be empty")
	}
	if len(text) > MaxTextLength {
		return nil, validation.NewInputError("Text exceeds maximum length of %d characters", MaxTextLength)
	}

	vectors, err := s.encodeValidated(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *Service) EncodeRawBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, validation.NewInputError("Texts list cannot be empty")
	}
	if batchSize < minBatchSize || batchSize > maxBatchSize {
		return nil, validation.NewInputError("batch_size must be between %d and %d", minBatchSize, maxBatchSize)
	}

	trimmed := make([]string, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, validation.NewInputError("Text at index %d cannot be empty", i)
		}
		if len(text) > MaxTextLength {
			return nil, validation.NewInputError("Text at index %d exceeds maximum length", i)
		}
		trimmed[i] = text
	}

	var vectors [][]float32
	for start := 0; start < len(trimmed); start += batchSize {
		end := start + batchSize
		if end > len(trimmed) {
			end = len(trimmed)
		}

		batch, err := s.encodeValidated(ctx, trimmed[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// encodeValidated runs the API call with retry, trying the primary model
// before the general-purpose fallback.
func (s *Service) encodeValidated(ctx context.Context, texts []string) ([][]float32, error) {
	s.ensureClient()

	vectors, err := s.callModel(ctx, s.primaryModel, texts)
	if err == nil {
		return vectors, nil
	}

	if s.fallbackModel != "" && s.fallbackModel != s.primaryModel {
		logger.Warn("Primary embedding model failed, trying fallback",
			zap.String("model", s.primaryModel),
			zap.String("fallback", s.fallbackModel),
			zap.Error(err),
		)
		vectors, fbErr := s.callModel(ctx, s.fallbackModel, texts)
		if fbErr == nil {
			return vectors, nil
		}
	}

	return nil, fmt.Errorf("failed to encode text: %w", err)
}

func (s *Service) callModel(ctx context.Context, modelName string, texts []string) ([][]float32, error) {
	return retry.DoWithResult(ctx, s.retryCfg, func() ([][]float32, error) {
		resp, err := s.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(modelName),
		})
		if err != nil {
			return nil, err
		}

		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
		}

		vectors := make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			if len(data.Embedding) != s.dim {
				return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(data.Embedding), s.dim)
			}
			vec := make([]float32, len(data.Embedding))
			copy(vec, data.Embedding)
			vectors[i] = vec
		}
		return vectors, nil
	})
}
