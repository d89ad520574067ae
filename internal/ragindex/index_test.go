package ragindex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lexpredict/backend/internal/embedding"
	"github.com/lexpredict/backend/internal/validation"
	"github.com/lexpredict/backend/pkg/config"
)

// keywordEncoder maps text onto fixed axes by keyword so similarity
// rankings in tests are deterministic.
type keywordEncoder struct{}

func (keywordEncoder) encode(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "column"):
		return []float32{1, 0, 0}
	case strings.Contains(lower, "model"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (e keywordEncoder) EncodeRaw(ctx context.Context, text string) ([]float32, error) {
	return e.encode(text), nil
}

func (e keywordEncoder) EncodeRawBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.encode(t)
	}
	return out, nil
}

func (keywordEncoder) Dimension() int { return 3 }

type stubGenerator struct {
	answer string
	err    error
	calls  int
}

func (g *stubGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	g.calls++
	return g.answer, g.err
}

func writeDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	dictionary := "# Columns\n\nThe column win_lose records the appeal outcome.\n"
	modeling := "# Pipeline\n\nThe model is a classifier over opinion embeddings.\n"

	if err := os.WriteFile(filepath.Join(dir, "data_dictionary.md"), []byte(dictionary), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "modeling.md"), []byte(modeling), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testConfig(dir string) config.RAGConfig {
	return config.RAGConfig{
		DocsDir:     dir,
		DocFiles:    []string{"data_dictionary.md", "modeling.md"},
		ChunkSize:   500,
		DefaultTopK: 3,
		MaxQuestion: 1000,
	}
}

func TestRetrieveValidation(t *testing.T) {
	idx := NewIndex(testConfig(writeDocs(t)), keywordEncoder{}, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		question string
		topK     int
		errPart  string
	}{
		{"empty question", "   ", 3, "cannot be empty"},
		{"question too long", strings.Repeat("q", 1001), 3, "maximum length"},
		{"topK too large", "what are the columns", 11, "between 1 and 10"},
		{"topK negative", "what are the columns", -1, "between 1 and 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Retrieve(ctx, tt.question, tt.topK)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var inputErr *validation.InputError
			if !errors.As(err, &inputErr) {
				t.Errorf("error type = %T, want *validation.InputError", err)
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errPart)
			}
		})
	}
}

func TestRetrieveRanking(t *testing.T) {
	idx := NewIndex(testConfig(writeDocs(t)), keywordEncoder{}, nil)

	docs, err := idx.Retrieve(context.Background(), "what does the column win_lose mean", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d results, want 2", len(docs))
	}
	if docs[0].Source != "data_dictionary.md" {
		t.Errorf("top result source = %q, want data_dictionary.md", docs[0].Source)
	}
	if docs[0].Similarity < docs[1].Similarity {
		t.Error("results not sorted by similarity descending")
	}
	if docs[0].Section != "Columns" {
		t.Errorf("top result section = %q, want Columns", docs[0].Section)
	}
}

func TestRetrieveDefaultTopK(t *testing.T) {
	idx := NewIndex(testConfig(writeDocs(t)), keywordEncoder{}, nil)

	docs, err := idx.Retrieve(context.Background(), "tell me about the model", 0)
	if err != nil {
		t.Fatal(err)
	}
	// defaultTopK is 3 but the corpus only has 2 chunks.
	if len(docs) != 2 {
		t.Errorf("got %d results, want all 2 chunks", len(docs))
	}
}

// TestRetrieveWithEmbeddingService runs the index against the real embedding
// service backed by a stub API. Documentation prose has no legal vocabulary
// and questions are often short, so neither may be routed through the
// case-text gate.
func TestRetrieveWithEmbeddingService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []item `json:"data"`
			Model  string `json:"model"`
		}{Object: "list", Model: req.Model}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, item{Object: "embedding", Index: i, Embedding: keywordEncoder{}.encode(text)})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	dictionary := "# Columns\n\nThe column set covers filing year, category and outcome. " +
		"Each column is typed and documented with allowed values, default handling " +
		"and provenance notes for the feature pipeline.\n"
	modeling := "# Metrics\n\nThe production model reports accuracy, precision, recall " +
		"and macro F1 on a held out split. Scores are averaged over five folds.\n"
	if err := os.WriteFile(filepath.Join(dir, "data_dictionary.md"), []byte(dictionary), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "modeling.md"), []byte(modeling), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := embedding.NewService(config.LLMConfig{
		APIKey:         "test-key",
		BaseURL:        srv.URL,
		EmbeddingModel: "legal-bert-base",
		EmbeddingDim:   3,
	}, nil)
	idx := NewIndex(testConfig(dir), svc, nil)

	docs, err := idx.Retrieve(context.Background(), "What model is used?", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d results, want 2", len(docs))
	}
	if docs[0].Source != "modeling.md" {
		t.Errorf("top result source = %q, want modeling.md", docs[0].Source)
	}
	if docs[0].Section != "Metrics" {
		t.Errorf("top result section = %q, want Metrics", docs[0].Section)
	}
}

func TestEnsureBuiltSkipsMissingFiles(t *testing.T) {
	cfg := testConfig(writeDocs(t))
	cfg.DocFiles = append(cfg.DocFiles, "does_not_exist.md")
	idx := NewIndex(cfg, keywordEncoder{}, nil)

	if err := idx.EnsureBuilt(context.Background()); err != nil {
		t.Fatalf("missing file should be skipped, got %v", err)
	}
	if len(idx.chunks) != 2 {
		t.Errorf("got %d chunks, want 2", len(idx.chunks))
	}
}

func TestEnsureBuiltEmptyIndex(t *testing.T) {
	cfg := testConfig(t.TempDir())
	idx := NewIndex(cfg, keywordEncoder{}, nil)

	if err := idx.EnsureBuilt(context.Background()); err == nil {
		t.Fatal("expected error when no documentation loads")
	}
}

func TestAnswerWithGenerator(t *testing.T) {
	gen := &stubGenerator{answer: "The win_lose column records the appeal outcome."}
	idx := NewIndex(testConfig(writeDocs(t)), keywordEncoder{}, gen)

	answer, docs, err := idx.Answer(context.Background(), "what is the column win_lose", 2)
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}
	if len(docs) == 0 {
		t.Error("expected supporting documents")
	}
	want := gen.answer + "\n\n*This answer is based on the retrieved documentation above.*"
	if answer != want {
		t.Errorf("answer = %q, want %q", answer, want)
	}
}

func TestAnswerFallsBackWhenGeneratorFails(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model unavailable")}
	idx := NewIndex(testConfig(writeDocs(t)), keywordEncoder{}, gen)

	answer, docs, err := idx.Answer(context.Background(), "what is the column win_lose", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) == 0 {
		t.Error("fallback should still return supporting documents")
	}
	if !strings.Contains(answer, "Based on the retrieved documentation:") {
		t.Error("fallback answer missing documentation preface")
	}
	if !strings.Contains(answer, "*This answer is based solely on the retrieved documentation above.*") {
		t.Error("fallback answer missing disclaimer")
	}
}

func TestAnswerWithoutGenerator(t *testing.T) {
	idx := NewIndex(testConfig(writeDocs(t)), keywordEncoder{}, nil)

	answer, _, err := idx.Answer(context.Background(), "what is the column win_lose", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(answer, "**From Data Dictionary:**") {
		t.Errorf("answer missing source heading:\n%s", answer)
	}
	if !strings.Contains(answer, "Columns:") {
		t.Errorf("answer missing section label:\n%s", answer)
	}
}

func TestDocsOnlyAnswerGroupsBySource(t *testing.T) {
	docs := []ScoredChunk{
		{Chunk: Chunk{Source: "modeling.md", Section: "Pipeline", Content: "model text"}, Similarity: 0.9},
		{Chunk: Chunk{Source: "data_dictionary.md", Section: "Columns", Content: "column text"}, Similarity: 0.8},
		{Chunk: Chunk{Source: "modeling.md", Section: "Training", Content: "training text"}, Similarity: 0.7},
	}

	answer := docsOnlyAnswer(docs)

	modelingPos := strings.Index(answer, "**From Modeling:**")
	dictPos := strings.Index(answer, "**From Data Dictionary:**")
	if modelingPos == -1 || dictPos == -1 {
		t.Fatalf("missing source headings:\n%s", answer)
	}
	if modelingPos > dictPos {
		t.Error("sources should appear in first-retrieval order")
	}
	if strings.Count(answer, "**From Modeling:**") != 1 {
		t.Error("chunks from the same source should share one heading")
	}
}

func TestDocsOnlyAnswerTruncatesLongChunks(t *testing.T) {
	long := strings.Repeat("x", answerSnippetLimit+50)
	docs := []ScoredChunk{
		{Chunk: Chunk{Source: "modeling.md", Section: "Pipeline", Content: long}},
	}

	answer := docsOnlyAnswer(docs)
	if !strings.Contains(answer, strings.Repeat("x", answerSnippetLimit)+"...") {
		t.Error("long chunk should be truncated with ellipsis")
	}
	if strings.Contains(answer, strings.Repeat("x", answerSnippetLimit+1)) {
		t.Error("chunk quoted beyond snippet limit")
	}
}

func TestSourceTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"data_dictionary.md", "Data Dictionary"},
		{"modeling.md", "Modeling"},
		{"api_usage_guide.md", "Api Usage Guide"},
	}
	for _, tt := range tests {
		if got := sourceTitle(tt.in); got != tt.want {
			t.Errorf("sourceTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
