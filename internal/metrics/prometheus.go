package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexpredict_prediction_duration_seconds",
			Help:    "Prediction pipeline duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"input_type"},
	)

	PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexpredict_prediction_total",
			Help: "Total number of predictions processed",
		},
		[]string{"label", "status"},
	)

	PredictionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lexpredict_prediction_confidence",
			Help:    "Calibrated prediction probabilities",
			Buckets: []float64{0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		},
	)

	UncertainPredictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lexpredict_uncertain_predictions_total",
			Help: "Predictions flagged as uncertain after calibration",
		},
	)

	InputRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexpredict_input_rejected_total",
			Help: "Inputs rejected by legal text validation",
		},
		[]string{"reason"},
	)

	EmbeddingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexpredict_embedding_duration_seconds",
			Help:    "Embedding generation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"model"},
	)

	PrecedentResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lexpredict_precedent_results_count",
			Help:    "Number of precedents returned per search",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	RAGResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lexpredict_rag_results_count",
			Help:    "Number of documentation chunks retrieved per question",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	GeneratorFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexpredict_generator_fallbacks_total",
			Help: "Generative calls that fell back to deterministic output",
		},
		[]string{"component"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexpredict_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexpredict_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CorpusSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexpredict_corpus_cases_total",
			Help: "Total cases in the precedent corpus",
		},
	)

	BriefsComposed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexpredict_briefs_composed_total",
			Help: "Total legal briefs composed",
		},
		[]string{"mode", "status"},
	)
)

func Init() {
	prometheus.MustRegister(PredictionDuration)
	prometheus.MustRegister(PredictionTotal)
	prometheus.MustRegister(PredictionConfidence)
	prometheus.MustRegister(UncertainPredictions)
	prometheus.MustRegister(InputRejected)
	prometheus.MustRegister(EmbeddingDuration)
	prometheus.MustRegister(PrecedentResultsCount)
	prometheus.MustRegister(RAGResultsCount)
	prometheus.MustRegister(GeneratorFallbacks)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CorpusSize)
	prometheus.MustRegister(BriefsComposed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
