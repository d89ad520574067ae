// Package narrative produces user-facing prose: prediction explanations and
// appellate briefs. Explanations always succeed because a deterministic
// template backs the generative path; briefs are generative-only.
package narrative

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/model"
	"github.com/lexpredict/backend/pkg/logger"
)

// maxFactsInExplanation limits how many facts the explanation lists.
const maxFactsInExplanation = 8

// PredictionSummary carries everything the explanation needs about one
// prediction. Confidence is the raw model probability, Probability the
// calibrated one; both are fractions in [0, 1]. Likelihoods holds historical
// outcome percentages keyed by disposition tag.
type PredictionSummary struct {
	Label        string
	Confidence   float64
	Probability  float64
	Likelihoods  map[string]float64
	TopFeatures  []model.Attribution
	Judgment     string
	Facts        []string
	Court        string
	Jurisdiction string
	NatureOfSuit string
	Year         int
}

// winLikelihoodOrder and loseLikelihoodOrder fix presentation order; the
// glosses explain each disposition in the template fallback.
var (
	winLikelihoodOrder  = []string{"reversed", "granted"}
	loseLikelihoodOrder = []string{"denied", "affirmed", "dismissed", "remanded"}

	likelihoodGlosses = map[string]string{
		"reversed":  "the lower court decision would be overturned",
		"granted":   "the appeal request would be approved, e.g., certiorari granted",
		"denied":    "the appeal request would be rejected",
		"affirmed":  "the lower court decision would be upheld",
		"dismissed": "the appeal would be terminated without decision",
		"remanded":  "the case would be sent back to the lower court for reconsideration",
	}
)

const explanationSystemPrompt = `You are a legal AI assistant that explains machine learning predictions for APPEALED CASE outcomes from the DEFENDANT/APPELLANT's perspective.
IMPORTANT: These are appeal cases, not trial cases. The predictions indicate whether the defendant/appellant's appeal will be successful or unsuccessful.
The system predicts outcomes for the DEFENDANT/APPELLANT side. Use proper legal judgment language appropriate for the nature of suit provided.
Provide clear, professional, and insightful explanations that help users understand why the model made this prediction.
Write in plain language that non-technical users can understand. Do NOT mention technical terms like "feature dimensions" or "embeddings".
Focus on what the prediction means for the DEFENDANT/APPELLANT's APPEAL in practical terms. Frame all outcomes in terms of appeal success (reversed/granted) or appeal failure (affirmed/denied/dismissed/remanded).
When explaining outcome likelihoods, provide LEGAL REASONING for why certain outcomes are more likely than others based on appeal law and procedures.
Always use proper legal terminology - never use "win" or "lose", use judgment language like "Judgment in Favor of Defendant" or "Judgment in Favor of Plaintiff/Government" based on the inferred case type.`

// Explainer renders a PredictionSummary into prose.
type Explainer struct {
	generator Generator
}

// Generator is the text-completion dependency; nil disables the generative
// path entirely.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

func NewExplainer(generator Generator) *Explainer {
	return &Explainer{generator: generator}
}

// Explain produces an explanation for the prediction. It never fails: when
// generation is unavailable or errors, the template rendering of the same
// summary is returned instead.
func (e *Explainer) Explain(ctx context.Context, s PredictionSummary) string {
	if e.generator != nil {
		text, err := e.generateExplanation(ctx, s)
		if err == nil {
			return text
		}
		logger.Warn("Generative explanation failed, using template", zap.Error(err))
		metrics.GeneratorFallbacks.WithLabelValues("explanation").Inc()
	}
	return templateExplanation(s)
}

func (e *Explainer) generateExplanation(ctx context.Context, s PredictionSummary) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Predicted Legal Judgment: %s\n", s.Judgment)
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", s.Confidence*100)
	fmt.Fprintf(&b, "Probability: %.1f%%\n", s.Probability*100)

	outcome := "unsuccessful"
	if s.Label == model.LabelWin {
		outcome = "successful"
	}
	fmt.Fprintf(&b, "\nNote: This prediction is from the defendant/appellant's perspective. %s means the appeal is %s.\n", s.Judgment, outcome)

	if len(s.Facts) > 0 {
		b.WriteString("\nExtracted Case Facts:\n")
		for i, fact := range truncateFacts(s.Facts) {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, fact)
		}
	}

	b.WriteString("\nOutcome Likelihoods (based on historical data):\n")
	for _, tag := range likelihoodOrder(s.Label) {
		if pct, ok := s.Likelihoods[tag]; ok {
			fmt.Fprintf(&b, "  - %s: %.1f%%\n", titleTag(tag), pct)
		}
	}

	writeCaseContext(&b, s)

	if note := factorNote(s.TopFeatures); note != "" {
		b.WriteString("\n" + note + "\n")
	}

	userPrompt := fmt.Sprintf(`Based on the following prediction results, provide a clear and user-friendly explanation:

%s
IMPORTANT: This is an APPEAL case from the DEFENDANT/APPELLANT's perspective, not a trial case. Frame your explanation in terms of appeal outcomes for the defendant/appellant.

Please explain in plain language:
1. The KEY CASE FACTS extracted from the text
2. What this prediction means for the DEFENDANT/APPELLANT's APPEAL - explain what "%s" means in practical terms
3. What the confidence level tells us (is this a strong or weak prediction)
4. The OUTCOME LIKELIHOODS and legal explanations for why certain specific outcomes are more likely than others
5. What factors might have influenced this prediction
6. What this might mean for the defendant/appellant and their appeal

Write in a professional but accessible tone. Avoid technical jargon.
NEVER use "win" or "lose" - always use proper legal judgment language like "%s".`,
		b.String(), s.Judgment, s.Judgment)

	text, err := e.generator.Complete(ctx, explanationSystemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// templateExplanation is the deterministic fallback. It only restates inputs
// so a degraded system never asserts anything generation could get wrong.
func templateExplanation(s PredictionSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Predicted Legal Judgment: %s\n", s.Judgment)
	b.WriteString("\nNote: This prediction is from the defendant/appellant's perspective.\n\n")

	if len(s.Facts) > 0 {
		b.WriteString("Key Case Facts:\n")
		for i, fact := range truncateFacts(s.Facts) {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, fact)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Confidence: %.1f%%\n", s.Confidence*100)
	fmt.Fprintf(&b, "Probability: %.1f%%\n\n", s.Probability*100)

	b.WriteString("Outcome Likelihoods (based on historical data):\n")
	for _, tag := range likelihoodOrder(s.Label) {
		if pct, ok := s.Likelihoods[tag]; ok {
			fmt.Fprintf(&b, "  - %s: %.1f%% (%s)\n", titleTag(tag), pct, likelihoodGlosses[tag])
		}
	}
	b.WriteString("\n")

	writeCaseContext(&b, s)

	if s.Label == model.LabelWin {
		b.WriteString("Interpretation: The model predicts a successful appeal outcome based on " +
			"similarities to appeal cases that were reversed or granted. The legal reasoning " +
			"in the provided text aligns with patterns associated with successful appeals.")
	} else {
		b.WriteString("Interpretation: The model predicts an unsuccessful appeal outcome based on " +
			"similarities to appeal cases that were affirmed, denied, dismissed, or remanded. " +
			"The legal reasoning in the provided text aligns with patterns associated " +
			"with unsuccessful appeals.")
	}

	return b.String()
}

func writeCaseContext(b *strings.Builder, s PredictionSummary) {
	if s.Court == "" && s.Jurisdiction == "" && s.NatureOfSuit == "" && s.Year == 0 {
		return
	}
	b.WriteString("Case Context:\n")
	if s.Court != "" {
		fmt.Fprintf(b, "  Court: %s\n", s.Court)
	}
	if s.Jurisdiction != "" {
		fmt.Fprintf(b, "  Jurisdiction: %s\n", s.Jurisdiction)
	}
	if s.NatureOfSuit != "" {
		fmt.Fprintf(b, "  Nature of Suit: %s\n", s.NatureOfSuit)
	}
	if s.Year != 0 {
		fmt.Fprintf(b, "  Year: %d\n", s.Year)
	}
	b.WriteString("\n")
}

// factorNote summarizes attribution direction without exposing embedding
// dimensions to the user.
func factorNote(features []model.Attribution) string {
	if len(features) == 0 {
		return ""
	}
	if len(features) > 5 {
		features = features[:5]
	}

	positive, negative := 0, 0
	for _, f := range features {
		switch {
		case f.Contribution > 0:
			positive++
		case f.Contribution < 0:
			negative++
		}
	}

	switch {
	case positive > negative:
		return fmt.Sprintf("The model identified %d key factors that support this prediction.", positive)
	case negative > positive:
		return fmt.Sprintf("The model identified %d key factors that influenced this prediction.", negative)
	default:
		return "The model identified several key factors that influenced this prediction."
	}
}

func likelihoodOrder(label string) []string {
	if label == model.LabelWin {
		return winLikelihoodOrder
	}
	return loseLikelihoodOrder
}

func truncateFacts(facts []string) []string {
	if len(facts) > maxFactsInExplanation {
		return facts[:maxFactsInExplanation]
	}
	return facts
}

func titleTag(tag string) string {
	if tag == "" {
		return tag
	}
	return strings.ToUpper(tag[:1]) + tag[1:]
}
