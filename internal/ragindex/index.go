package ragindex

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/embedding"
	"github.com/lexpredict/backend/internal/llm"
	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/validation"
	"github.com/lexpredict/backend/pkg/config"
	"github.com/lexpredict/backend/pkg/logger"
)

const (
	maxRetrieveTopK = 10
	embedBatchSize  = 8
	// answerSnippetLimit caps how much of each chunk the documentation-only
	// answer quotes verbatim.
	answerSnippetLimit = 500
)

const answerSystemPrompt = `You are a helpful assistant that answers questions about a legal outcome prediction system.
You MUST only use information from the provided documentation context.
Do NOT make up or infer information that is not explicitly stated in the documentation.
Always cite which document and section your information comes from.
If the documentation doesn't contain enough information to answer the question, say so clearly.`

const noResultsAnswer = "I couldn't find relevant documentation to answer your question. " +
	"Please try rephrasing your question or ask about:\n" +
	"- Data dictionary (columns and fields)\n" +
	"- Modeling pipeline and approach\n" +
	"- How predictions are interpreted\n" +
	"- System limitations"

// ScoredChunk is a retrieved chunk with its similarity to the question.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// Index answers questions about the system from a fixed set of markdown
// documentation files. It never answers from model knowledge alone: the
// generative path is constrained to retrieved chunks and everything degrades
// to quoting the chunks directly.
type Index struct {
	encoder   embedding.RawEncoder
	generator llm.Generator
	docsDir   string
	docFiles  []string
	chunkSize int

	defaultTopK int
	maxQuestion int

	mu     sync.Mutex
	built  bool
	chunks []Chunk
	matrix [][]float32
}

// NewIndex builds an unloaded index; documentation is read and embedded on
// first use via EnsureBuilt. generator may be nil, in which case every answer
// uses the documentation-only path.
func NewIndex(cfg config.RAGConfig, encoder embedding.RawEncoder, generator llm.Generator) *Index {
	return &Index{
		encoder:     encoder,
		generator:   generator,
		docsDir:     cfg.DocsDir,
		docFiles:    cfg.DocFiles,
		chunkSize:   cfg.ChunkSize,
		defaultTopK: cfg.DefaultTopK,
		maxQuestion: cfg.MaxQuestion,
	}
}

// EnsureBuilt loads, chunks and embeds the documentation exactly once.
// Missing individual files are skipped with a warning; an entirely empty
// index is an error because the assistant would have nothing to cite.
func (idx *Index) EnsureBuilt(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.built {
		return nil
	}

	var chunks []Chunk
	for _, name := range idx.docFiles {
		path := filepath.Join(idx.docsDir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Documentation file not loaded",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		chunks = append(chunks, ChunkDocument(name, content, idx.chunkSize)...)
	}

	if len(chunks) == 0 {
		return fmt.Errorf("no documentation chunks loaded from %s", idx.docsDir)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	// Documentation chunks are markdown prose, not case text, so they take
	// the raw encode path that skips the legal-content gate.
	matrix, err := idx.encoder.EncodeRawBatch(ctx, texts, embedBatchSize)
	if err != nil {
		return fmt.Errorf("failed to embed documentation: %w", err)
	}

	idx.chunks = chunks
	idx.matrix = matrix
	idx.built = true

	logger.Info("Documentation index built",
		zap.Int("files", len(idx.docFiles)),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// Retrieve returns the topK chunks most similar to the question, highest
// similarity first.
func (idx *Index) Retrieve(ctx context.Context, question string, topK int) ([]ScoredChunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, validation.NewInputError("Question cannot be empty")
	}
	if idx.maxQuestion > 0 && len(question) > idx.maxQuestion {
		return nil, validation.NewInputError("Question exceeds maximum length of %d characters", idx.maxQuestion)
	}
	if topK == 0 {
		topK = idx.defaultTopK
	}
	if topK < 1 || topK > maxRetrieveTopK {
		return nil, validation.NewInputError("top_k must be between 1 and %d", maxRetrieveTopK)
	}

	if err := idx.EnsureBuilt(ctx); err != nil {
		return nil, err
	}

	queryVec, err := idx.encoder.EncodeRaw(ctx, question)
	if err != nil {
		return nil, err
	}

	type scored struct {
		idx int
		sim float64
	}
	scores := make([]scored, len(idx.matrix))
	for i, row := range idx.matrix {
		scores[i] = scored{idx: i, sim: cosine32(queryVec, row)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].sim > scores[j].sim
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	results := make([]ScoredChunk, 0, topK)
	for _, s := range scores[:topK] {
		results = append(results, ScoredChunk{Chunk: idx.chunks[s.idx], Similarity: s.sim})
	}
	metrics.RAGResultsCount.Observe(float64(len(results)))
	return results, nil
}

// Answer retrieves relevant documentation and produces a grounded answer.
// When no chunks match, it returns guidance on what can be asked instead of
// guessing. When generation fails, it quotes the retrieved chunks directly.
func (idx *Index) Answer(ctx context.Context, question string, topK int) (string, []ScoredChunk, error) {
	docs, err := idx.Retrieve(ctx, question, topK)
	if err != nil {
		return "", nil, err
	}
	if len(docs) == 0 {
		return noResultsAnswer, nil, nil
	}

	question = strings.TrimSpace(question)
	if idx.generator != nil {
		answer, genErr := idx.generateAnswer(ctx, question, docs)
		if genErr == nil {
			return answer, docs, nil
		}
		logger.Warn("Answer generation failed, using documentation-only answer",
			zap.Error(genErr),
		)
		metrics.GeneratorFallbacks.WithLabelValues("rag_answer").Inc()
	}

	return docsOnlyAnswer(docs), docs, nil
}

func (idx *Index) generateAnswer(ctx context.Context, question string, docs []ScoredChunk) (string, error) {
	var docContext strings.Builder
	for _, doc := range docs {
		docContext.WriteString("[From " + sourceTitle(doc.Source))
		if doc.Section != "" {
			docContext.WriteString(", Section: " + doc.Section)
		}
		docContext.WriteString("]\n" + doc.Content + "\n\n")
	}

	userPrompt := fmt.Sprintf(
		"Based on the following documentation, answer this question: %s\n\n"+
			"Documentation Context:\n%s\n"+
			"Remember: Only use information from the documentation above. Cite your sources.",
		question, docContext.String(),
	)

	answer, err := idx.generator.Complete(ctx, answerSystemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer) + "\n\n*This answer is based on the retrieved documentation above.*", nil
}

// docsOnlyAnswer assembles an answer purely from retrieved chunk text,
// grouped by source document in retrieval order.
func docsOnlyAnswer(docs []ScoredChunk) string {
	var (
		order   []string
		grouped = make(map[string][]ScoredChunk)
	)
	for _, doc := range docs {
		title := sourceTitle(doc.Source)
		if _, seen := grouped[title]; !seen {
			order = append(order, title)
		}
		grouped[title] = append(grouped[title], doc)
	}

	parts := []string{"Based on the retrieved documentation:\n"}
	for _, title := range order {
		parts = append(parts, fmt.Sprintf("\n**From %s:**", title))
		for _, doc := range grouped[title] {
			if doc.Section != "" {
				parts = append(parts, "\n"+doc.Section+":")
			}
			content := doc.Content
			if len(content) > answerSnippetLimit {
				content = content[:answerSnippetLimit] + "..."
			}
			parts = append(parts, content)
		}
	}
	parts = append(parts, "\n\n*This answer is based solely on the retrieved documentation above.*")
	return strings.Join(parts, "\n")
}

// sourceTitle turns "data_dictionary.md" into "Data Dictionary".
func sourceTitle(source string) string {
	name := strings.TrimSuffix(source, ".md")
	words := strings.Split(strings.ReplaceAll(name, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func cosine32(a, b []float32) float64 {
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
