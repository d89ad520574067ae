package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/storage/models"
	"github.com/lexpredict/backend/internal/validation"
	"github.com/lexpredict/backend/pkg/logger"
)

const (
	// MaxResults caps a single precedent search regardless of how many were
	// requested.
	MaxResults     = 10
	defaultResults = 5
	snippetLength  = 300
	maxQueryLength = 50000
)

// SimilarCase is one precedent scored against the query. Outcome is always
// one of "win", "lose" or "unknown"; OriginalOutcome keeps the raw court
// disposition tag when present.
type SimilarCase struct {
	CaseName        string  `json:"case_name"`
	Snippet         string  `json:"snippet"`
	Similarity      float64 `json:"similarity"`
	Outcome         string  `json:"outcome"`
	OriginalOutcome string  `json:"original_outcome,omitempty"`
	FullText        string  `json:"full_text"`
	Court           string  `json:"court,omitempty"`
	DateFiled       string  `json:"date_filed,omitempty"`
	DocketID        string  `json:"docket_id,omitempty"`
}

// Encoder is the slice of the embedding service precedent search needs.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Retriever ranks the frozen corpus against a query by cosine similarity.
// The corpus and embedding matrix are row-aligned and never mutated after
// load, so a Retriever is safe for concurrent use.
type Retriever struct {
	encoder Encoder
	matrix  [][]float32
	corpus  []models.CorpusRecord
}

func NewRetriever(encoder Encoder, matrix [][]float32, corpus []models.CorpusRecord) *Retriever {
	return &Retriever{encoder: encoder, matrix: matrix, corpus: corpus}
}

// FindSimilarByText embeds the query text and returns up to topK precedents.
func (r *Retriever) FindSimilarByText(ctx context.Context, text string, topK int) ([]SimilarCase, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validation.NewInputError("Text cannot be empty")
	}
	if len(text) > maxQueryLength {
		return nil, validation.NewInputError("Text exceeds maximum length of %d characters", maxQueryLength)
	}

	queryVec, err := r.encoder.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	return r.FindSimilar(queryVec, topK), nil
}

// FindSimilarByFacts joins extracted facts into a bullet-list query so a
// caller can search precedents without the full opinion text.
func (r *Retriever) FindSimilarByFacts(ctx context.Context, facts []string, topK int) ([]SimilarCase, error) {
	if len(facts) == 0 {
		return nil, validation.NewInputError("Either text or facts must be provided")
	}
	return r.FindSimilarByText(ctx, validation.JoinFacts(facts), topK)
}

// FindSimilar scores every corpus row against the query embedding and returns
// the top matches, highest similarity first. Ties keep corpus order.
func (r *Retriever) FindSimilar(queryVec []float32, topK int) []SimilarCase {
	if len(r.corpus) == 0 {
		return nil
	}

	if topK <= 0 {
		topK = defaultResults
	}
	if topK > MaxResults {
		topK = MaxResults
	}
	if topK > len(r.corpus) {
		topK = len(r.corpus)
	}

	type scored struct {
		idx int
		sim float64
	}
	scores := make([]scored, len(r.matrix))
	for i, row := range r.matrix {
		scores[i] = scored{idx: i, sim: cosine(queryVec, row)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].sim > scores[j].sim
	})

	cases := make([]SimilarCase, 0, topK)
	for _, s := range scores[:topK] {
		cases = append(cases, r.buildCase(s.idx, s.sim))
	}

	metrics.PrecedentResultsCount.Observe(float64(len(cases)))
	logger.Debug("Precedent search complete",
		zap.Int("requested", topK),
		zap.Int("returned", len(cases)),
		zap.Int("corpus_size", len(r.corpus)),
	)
	return cases
}

func (r *Retriever) buildCase(idx int, similarity float64) SimilarCase {
	rec := r.corpus[idx]

	caseName := strings.TrimSpace(rec.CaseName)
	if caseName == "" {
		caseName = "Unknown"
	}

	outcome := strings.ToLower(strings.TrimSpace(rec.WinLose))
	if outcome != "win" && outcome != "lose" {
		outcome = "unknown"
	}

	snippet := rec.CleanText
	if len(snippet) > snippetLength {
		snippet = snippet[:snippetLength] + "..."
	}

	return SimilarCase{
		CaseName:        caseName,
		Snippet:         snippet,
		Similarity:      similarity,
		Outcome:         outcome,
		OriginalOutcome: strings.TrimSpace(rec.Outcome),
		FullText:        rec.CleanText,
		Court:           normalizeCourt(rec.Court),
		DateFiled:       strings.TrimSpace(rec.DateFiled),
		DocketID:        strings.TrimSpace(rec.DocketID),
	}
}

// normalizeCourt reduces a CourtListener API URL like
// .../api/rest/v3/courts/scotus/ to the bare court identifier.
func normalizeCourt(court string) string {
	court = strings.TrimSpace(court)
	if court == "" {
		return ""
	}
	if strings.Contains(court, "courtlistener.com") {
		if i := strings.LastIndex(court, "/courts/"); i >= 0 {
			return strings.TrimRight(court[i+len("/courts/"):], "/")
		}
	}
	return court
}

// cosine computes cosine similarity between two float32 vectors, returning 0
// for zero-norm or mismatched inputs.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
