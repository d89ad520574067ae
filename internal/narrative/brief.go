package narrative

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/retrieval"
	"github.com/lexpredict/backend/internal/validation"
	"github.com/lexpredict/backend/pkg/logger"
)

const (
	// maxBriefPrecedents limits how many winning precedents go into the
	// prompt.
	maxBriefPrecedents = 5
	briefSnippetLimit  = 200
)

const briefSystemPrompt = `You are an experienced appellate attorney drafting a compelling legal brief for the defendant/appellant.
Your task is to create a strong, argumentative legal brief that:
1. Uses ONLY the facts provided - do not invent or assume any facts not explicitly stated
2. Cites and relies on the provided precedents where defendant/appellant prevailed
3. Uses proper legal language, standard legal brief formatting, and professional legal argumentation
4. Structures the argument logically with clear headings
5. Makes a compelling case for why the appeal should be granted/reversed in favor of the defendant/appellant
6. Follows standard appellate brief structure: Statement of Facts, Argument, Conclusion

Format the brief professionally with:
- Clear section headings
- Numbered arguments where appropriate
- Citations to precedents
- Strong, persuasive language
- Legal reasoning and analysis`

const improveSystemPrompt = `You are an experienced appellate attorney improving a legal brief for the defendant/appellant.
Your task is to intelligently understand the user's improvement instructions and regenerate the brief accordingly:
1. Analyze the user's instructions carefully - they may want to add, remove, modify, or emphasize certain aspects
2. Keep ALL facts that are already in the brief (unless explicitly asked to remove)
3. Do NOT add new facts unless explicitly requested by the user
4. Implement the requested changes while maintaining the brief's structure and legal quality
5. Preserve strong legal arguments and citations unless asked to change them
6. Use proper legal language and formatting throughout`

// BriefRequest carries the inputs to brief composition. Setting both
// ImprovementInstructions and ExistingBrief switches to improvement mode.
type BriefRequest struct {
	Facts                   []string
	SimilarCases            []retrieval.SimilarCase
	NatureOfSuit            string
	Judgment                string
	ImprovementInstructions string
	ExistingBrief           string
}

// Composer drafts appellate briefs from extracted facts and winning
// precedents. When the generator is unavailable it falls back to a
// structured skeleton built purely from the facts and citations, clearly
// marked as such.
type Composer struct {
	generator Generator
}

func NewComposer(generator Generator) *Composer {
	return &Composer{generator: generator}
}

// Compose generates a brief and returns it with the precedent citations it
// was allowed to rely on. Only precedents the defendant/appellant won are
// cited; losing precedents would undermine the argument.
func (c *Composer) Compose(ctx context.Context, req BriefRequest) (string, []string, error) {
	if len(req.Facts) == 0 {
		return "", nil, validation.NewInputError("Facts are required")
	}

	winning, citations := winningPrecedents(req.SimilarCases)
	logger.Debug("Composing brief",
		zap.Int("facts", len(req.Facts)),
		zap.Int("winning_precedents", len(winning)),
		zap.Bool("improvement", req.improvement()),
	)

	mode := "draft"
	if req.improvement() {
		mode = "improve"
	}

	if c.generator == nil {
		metrics.BriefsComposed.WithLabelValues(mode, "fallback").Inc()
		return skeletonBrief(req, winning), citations, nil
	}

	var systemPrompt, userPrompt string
	if req.improvement() {
		systemPrompt = improveSystemPrompt
		userPrompt = c.improvePrompt(req, winning)
	} else {
		systemPrompt = briefSystemPrompt
		userPrompt = c.draftPrompt(req, winning)
	}

	brief, err := c.generator.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		logger.Warn("Brief generation failed, using structured skeleton", zap.Error(err))
		metrics.GeneratorFallbacks.WithLabelValues("brief").Inc()
		metrics.BriefsComposed.WithLabelValues(mode, "fallback").Inc()
		return skeletonBrief(req, winning), citations, nil
	}
	metrics.BriefsComposed.WithLabelValues(mode, "success").Inc()
	return strings.TrimSpace(brief), citations, nil
}

// skeletonBrief assembles a bare appellate brief from the facts and winning
// precedents alone. It argues nothing: the fallback restates inputs in brief
// structure so a reviewing attorney has a starting point, never prose the
// system cannot stand behind.
func skeletonBrief(req BriefRequest, winning []retrieval.SimilarCase) string {
	var b strings.Builder
	b.WriteString("APPELLATE BRIEF FOR DEFENDANT/APPELLANT\n\n")

	b.WriteString("STATEMENT OF THE CASE\n")
	if req.NatureOfSuit != "" {
		b.WriteString("Nature of Suit: " + req.NatureOfSuit + "\n")
	}
	if req.Judgment != "" {
		b.WriteString("Predicted Outcome: " + req.Judgment + "\n")
	}
	b.WriteString("\nSTATEMENT OF FACTS\n")
	b.WriteString(numberedFacts(req.Facts))

	if len(winning) > 0 {
		b.WriteString("\nSUPPORTING PRECEDENTS\n")
		count := len(winning)
		if count > maxBriefPrecedents {
			count = maxBriefPrecedents
		}
		for i, sc := range winning[:count] {
			fmt.Fprintf(&b, "%d. %s", i+1, sc.CaseName)
			if sc.OriginalOutcome != "" {
				fmt.Fprintf(&b, " (%s)", sc.OriginalOutcome)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nCONCLUSION\n")
	b.WriteString("For the foregoing reasons, defendant/appellant respectfully requests " +
		"that the judgment below be reversed.\n")
	b.WriteString("\n[Automated draft assembled from the case facts and precedents above. " +
		"Argument sections require attorney review.]")
	return b.String()
}

func (r BriefRequest) improvement() bool {
	return r.ImprovementInstructions != "" && r.ExistingBrief != ""
}

func (c *Composer) draftPrompt(req BriefRequest, winning []retrieval.SimilarCase) string {
	var b strings.Builder
	b.WriteString("Generate a compelling appellate brief for the defendant/appellant based on the following:\n\n")
	b.WriteString("CASE FACTS (USE ONLY THESE FACTS - DO NOT ADD OR INVENT ANY FACTS):\n")
	b.WriteString(numberedFacts(req.Facts))
	b.WriteString(precedentsContext(winning))
	writeBriefContext(&b, req)

	b.WriteString(`
Create a strong legal brief that:
1. Presents the facts accurately (only from the list above)
2. Makes compelling legal arguments for reversal/granting the appeal
3. Cites the provided precedents to support the arguments
4. Uses proper legal language and formatting
5. Concludes with a strong request for relief

Structure the brief with clear sections:
- Introduction/Statement of the Case
- Statement of Facts (based only on the facts provided)
- Argument (with subheadings for each legal point)
- Conclusion and Request for Relief`)
	return b.String()
}

func (c *Composer) improvePrompt(req BriefRequest, winning []retrieval.SimilarCase) string {
	var b strings.Builder
	b.WriteString("Improve and regenerate the following legal brief based on the user's instructions.\n\n")
	b.WriteString("USER'S IMPROVEMENT INSTRUCTIONS:\n" + req.ImprovementInstructions + "\n\n")
	b.WriteString("EXISTING BRIEF:\n" + req.ExistingBrief + "\n\n")
	b.WriteString("CASE FACTS (for reference - use only if relevant to improvements):\n")
	b.WriteString(numberedFacts(req.Facts))
	b.WriteString(precedentsContext(winning))
	writeBriefContext(&b, req)

	b.WriteString(`
Please:
1. Carefully analyze the user's instructions
2. Regenerate the brief implementing the requested changes
3. Maintain the brief's professional structure and formatting
4. Keep all relevant facts and arguments unless explicitly asked to remove
5. Strengthen the brief according to the instructions
6. Ensure the improved brief is compelling and well-structured`)
	return b.String()
}

// winningPrecedents filters to cases the defendant/appellant won and builds
// their display citations.
func winningPrecedents(cases []retrieval.SimilarCase) ([]retrieval.SimilarCase, []string) {
	var (
		winning   []retrieval.SimilarCase
		citations []string
	)
	for _, sc := range cases {
		if sc.Outcome != "win" {
			continue
		}
		winning = append(winning, sc)

		if sc.CaseName == "" || sc.CaseName == "Unknown" {
			continue
		}
		citation := sc.CaseName
		if sc.OriginalOutcome != "" {
			citation += " (" + sc.OriginalOutcome + ")"
		}
		citations = append(citations, citation)
	}
	return winning, citations
}

func precedentsContext(winning []retrieval.SimilarCase) string {
	if len(winning) == 0 {
		return ""
	}
	if len(winning) > maxBriefPrecedents {
		winning = winning[:maxBriefPrecedents]
	}

	var b strings.Builder
	b.WriteString("\nRELEVANT PRECEDENTS WHERE DEFENDANT/APPELLANT PREVAILED:\n")
	for i, sc := range winning {
		fmt.Fprintf(&b, "\n%d. %s", i+1, sc.CaseName)
		if sc.OriginalOutcome != "" {
			fmt.Fprintf(&b, " (Outcome: %s)", sc.OriginalOutcome)
		}
		if sc.Snippet != "" {
			snippet := sc.Snippet
			if len(snippet) > briefSnippetLimit {
				snippet = snippet[:briefSnippetLimit]
			}
			fmt.Fprintf(&b, "\n   Relevant excerpt: %s...\n", snippet)
		}
	}
	return b.String()
}

func numberedFacts(facts []string) string {
	var b strings.Builder
	for i, fact := range facts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, fact)
	}
	return b.String()
}

func writeBriefContext(b *strings.Builder, req BriefRequest) {
	if req.NatureOfSuit != "" {
		b.WriteString("\nNature of Suit: " + req.NatureOfSuit)
	}
	if req.Judgment != "" {
		b.WriteString("\nPredicted Outcome: " + req.Judgment)
	}
	b.WriteString("\n")
}
