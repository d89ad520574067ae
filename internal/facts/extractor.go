// Package facts extracts key case facts from legal opinion text. The primary
// path is generative; a keyword heuristic backs it so the feature never
// disappears when the LLM does.
package facts

import (
	"context"
	"fmt"
	"strings"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/llm"
	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/validation"
	"github.com/lexpredict/backend/pkg/logger"
)

const (
	// MaxFacts caps every extraction path.
	MaxFacts = 10
	// maxPromptText limits how much opinion text goes into the prompt.
	maxPromptText = 8000
)

const extractionSystemPrompt = "You are a legal assistant that extracts key factual elements from legal case texts, " +
	"specifically for APPEAL cases. Focus on facts relevant to the appeal outcome. " +
	"Return only the facts in bullet format, one fact per line starting with '- '. " +
	"IMPORTANT: Only extract facts that are explicitly stated in the legal case text provided. " +
	"Do NOT invent or assume facts based on the nature of suit alone. " +
	"If the text is too short, nonsensical, or doesn't contain meaningful legal content, " +
	"return an empty list or 'No facts could be extracted from the provided text.'"

const extractionInstructions = `Extract the key factual elements from the following legal case text.
This is an APPEAL case, so focus on:
- The underlying allegations/charges (what the defendant/appellant is accused of)
- The trial court's decision/ruling (what happened at trial)
- Key evidence or lack thereof (what evidence exists or is missing)
- Legal claims or defenses raised
- Parties involved (defendant/appellant, plaintiff/appellee, government, etc.)
- Nature of the case (criminal vs civil, type of offense/claim)
- Any procedural issues or errors alleged

Return ONLY a bulleted list of facts, one fact per line, starting with "- ".
Be concise but specific. Extract 5-10 key facts that are relevant to the appeal outcome.`

// Extractor pulls case facts out of opinion text. Invalid text always yields
// zero facts rather than an error: a prediction without facts is still
// usable, facts hallucinated from junk text are not.
type Extractor struct {
	generator llm.Generator
}

// NewExtractor returns an Extractor. generator may be nil, forcing the
// keyword fallback.
func NewExtractor(generator llm.Generator) *Extractor {
	return &Extractor{generator: generator}
}

// Extract returns up to MaxFacts facts from text. natureOfSuit, when given,
// provides context to the generative path and is appended as a fact by the
// fallback path.
func (e *Extractor) Extract(ctx context.Context, text, natureOfSuit string) []string {
	if err := validation.Validate(text, validation.FactsMinLength); err != nil {
		logger.Warn("Invalid input text for fact extraction", zap.Error(err))
		return nil
	}

	if e.generator == nil {
		return extractSimple(text, natureOfSuit)
	}

	facts, err := e.extractWithLLM(ctx, text, natureOfSuit)
	if err != nil {
		// A failed call after validation means a transient LLM problem, so
		// the heuristic still applies.
		logger.Warn("Generative fact extraction failed, using keyword fallback", zap.Error(err))
		metrics.GeneratorFallbacks.WithLabelValues("facts").Inc()
		return extractSimple(text, natureOfSuit)
	}
	return facts
}

func (e *Extractor) extractWithLLM(ctx context.Context, text, natureOfSuit string) ([]string, error) {
	instructions := extractionInstructions
	if natureOfSuit != "" {
		instructions += "\n\nNature of suit: " + natureOfSuit +
			". Consider this when extracting relevant facts, BUT ONLY extract facts that are actually present " +
			"in the legal case text below. Do NOT invent facts based solely on the nature of suit."
	}

	promptText := text
	if len(promptText) > maxPromptText {
		promptText = promptText[:maxPromptText]
	}
	userPrompt := fmt.Sprintf("%s\n\nLegal case text:\n%s", instructions, promptText)

	response, err := e.generator.Complete(ctx, extractionSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	facts := parseBullets(response)
	if len(facts) == 0 {
		return nil, fmt.Errorf("no parseable facts in response")
	}
	return facts, nil
}

// parseBullets turns an LLM bullet list into facts. It tolerates the usual
// drift: "•" and "*" markers, numbered lists and plain lines.
func parseBullets(response string) []string {
	var facts []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var fact string
		switch {
		case strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•") || strings.HasPrefix(line, "*"):
			fact = strings.TrimSpace(strings.TrimLeft(line, "-•*"))
		case strings.HasPrefix(line, "#"):
			continue
		case len(line) > 10:
			fact = strings.TrimSpace(strings.TrimLeft(line, "0123456789. "))
		}

		if fact != "" {
			facts = append(facts, fact)
		}
		if len(facts) == MaxFacts {
			break
		}
	}
	return facts
}

// keyword tables for the heuristic fallback. Accusation checks run in order
// and the first hit wins.
var (
	accusationWords = []string{"accused", "charged", "alleged", "allegation"}

	accusationTypes = []struct {
		words []string
		fact  string
	}{
		{[]string{"rape"}, "Defendant/appellant is accused of rape"},
		{[]string{"assault"}, "Defendant/appellant is accused of assault"},
		{[]string{"murder"}, "Defendant/appellant is accused of murder"},
		{[]string{"theft", "steal"}, "Defendant/appellant is accused of theft"},
		{[]string{"fraud"}, "Defendant/appellant is accused of fraud"},
	}

	ruledAgainstPhrases = []string{"ruled against", "found guilty", "convicted", "case ruled"}
	ruledForPhrases     = []string{"found not guilty", "acquitted", "ruled in favor"}
	noEvidencePhrases   = []string{"no evidence", "lack of evidence", "no substantive evidence", "insufficient evidence"}
	appealWords         = []string{"appeal", "appealing", "appellant", "appellee"}
	criminalWords       = []string{"criminal", "rape", "murder", "assault", "theft", "felony", "misdemeanor"}
	civilWords          = []string{"civil", "lawsuit", "plaintiff", "damages", "contract"}
)

// extractSimple is the deterministic keyword fallback.
func extractSimple(text, natureOfSuit string) []string {
	var facts []string
	lower := strings.ToLower(text)

	if containsAny(lower, accusationWords) {
		matched := false
		for _, at := range accusationTypes {
			if containsAny(lower, at.words) {
				facts = append(facts, at.fact)
				matched = true
				break
			}
		}
		if !matched {
			facts = append(facts, "Defendant/appellant faces criminal charges")
		}
	}

	if containsAny(lower, ruledAgainstPhrases) {
		facts = append(facts, "Trial court ruled against the defendant/appellant")
	} else if containsAny(lower, ruledForPhrases) {
		facts = append(facts, "Trial court ruled in favor of the defendant/appellant")
	}

	if containsAny(lower, noEvidencePhrases) {
		facts = append(facts, "There is no substantive evidence or insufficient evidence to support the accusations")
	} else if strings.Contains(lower, "evidence") {
		facts = append(facts, "Evidence issues are present in the case")
	}

	if containsAny(lower, appealWords) {
		facts = append(facts, "This is an appeal case")
	}

	if containsAny(lower, criminalWords) {
		facts = append(facts, "This is a criminal case")
	} else if containsAny(lower, civilWords) {
		facts = append(facts, "This is a civil case")
	}

	if natureOfSuit != "" {
		facts = append(facts, "Nature of suit: "+natureOfSuit)
	}

	if len(facts) == 0 {
		if sentence := firstSentence(text); sentence != "" {
			facts = append(facts, sentence)
		}
	}

	if len(facts) > MaxFacts {
		facts = facts[:MaxFacts]
	}
	return facts
}

// firstSentence salvages a single fact from text no keyword matched. Proper
// sentence segmentation keeps abbreviations like "v." and "U.S." from
// truncating the fact mid-citation.
func firstSentence(text string) string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return ""
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return ""
	}

	sentence := strings.TrimSpace(strings.TrimSuffix(sentences[0].Text, "."))
	if len(sentence) > 20 && len(sentence) < 200 {
		return sentence
	}
	return ""
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
