package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// InputError marks a request as rejectable with a reason the caller can show
// to the user verbatim.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return e.Reason
}

func NewInputError(format string, args ...interface{}) *InputError {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

const (
	// DefaultMinLength applies to raw opinion text.
	DefaultMinLength = 50
	// FactsMinLength applies to newline-joined fact lists.
	FactsMinLength = 30
)

var (
	// Pure arithmetic has to be caught before the length check so "1+1"
	// is rejected as math, not as too-short legal text.
	mathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d+\s*[+\-*/]\s*\d+\s*$`),
		regexp.MustCompile(`^\d+\s*=\s*\d+\s*$`),
		regexp.MustCompile(`^\d+\s*[+\-*/]\s*\d+`),
	}

	mathCharPattern    = regexp.MustCompile(`[\d+\-*/=]`)
	symbolsOnlyPattern = regexp.MustCompile(`^[\d\s+\-*/=.,;:!?()]+$`)

	trivialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^test\s*$`),
		regexp.MustCompile(`(?i)^hello\s*$`),
		regexp.MustCompile(`(?i)^[a-z]\s*$`),
		regexp.MustCompile(`^\d+\s*$`),
	}

	legalKeywords = []string{
		"court", "judge", "plaintiff", "defendant", "appellant", "appellee",
		"case", "lawsuit", "legal", "law", "statute", "regulation",
		"evidence", "testimony", "witness", "jury", "trial", "appeal",
		"ruling", "judgment", "decision", "opinion", "brief", "motion",
		"claim", "allegation", "accused", "charged", "convicted", "guilty",
		"damages", "injury", "violation", "rights", "contract", "agreement",
		"property", "employment", "discrimination", "civil", "criminal",
	}

	factKeywords = []string{
		"court", "judge", "plaintiff", "defendant", "appellant", "appellee",
		"case", "legal", "law", "evidence", "trial", "appeal", "ruling",
		"accused", "charged", "violation", "rights",
	}
)

// Validate checks that text looks like meaningful legal content. It returns
// nil when the text is acceptable and an *InputError with a user-facing
// reason otherwise. The gate is deterministic and stateless.
func Validate(text string, minLength int) error {
	if strings.TrimSpace(text) == "" {
		return NewInputError("Please enter legal text or case narrative. The input cannot be empty.")
	}

	text = strings.TrimSpace(text)

	for _, p := range mathPatterns {
		if p.MatchString(text) {
			return NewInputError("The input appears to be a mathematical expression rather than legal text. Please provide a case narrative, legal opinion, or description of the legal matter.")
		}
	}

	if len(text) < 100 {
		compact := strings.ReplaceAll(text, " ", "")
		mathChars := len(mathCharPattern.FindAllString(text, -1))
		if len(compact) > 0 && float64(mathChars) > float64(len(compact))*0.4 {
			return NewInputError("The input appears to be a mathematical expression rather than legal text. Please provide a case narrative, legal opinion, or description of the legal matter.")
		}
	}

	if len(text) < minLength {
		return NewInputError("Legal text must be at least %d characters. Please provide a more detailed case narrative or legal opinion text.", minLength)
	}

	if symbolsOnlyPattern.MatchString(text) {
		return NewInputError("The input contains only numbers and symbols. Please provide actual legal text describing a case or legal matter.")
	}

	if compact := strings.ReplaceAll(text, " ", ""); len(compact) > 5 && distinctChars(compact) <= 2 {
		return NewInputError("The input appears to be repetitive characters rather than meaningful legal text. Please provide a case narrative or legal opinion.")
	}

	if len(text) > 100 && countKeywords(strings.ToLower(text), legalKeywords) < 2 {
		return NewInputError("The input does not appear to contain legal content. Please provide a case narrative, legal opinion text, or description of a legal matter.")
	}

	for _, p := range trivialPatterns {
		if p.MatchString(text) {
			return NewInputError("The input does not appear to be legal text. Please provide a case narrative or legal opinion.")
		}
	}

	return nil
}

// ValidateFacts sanity-checks a user-supplied fact list. An empty list is
// fine; a non-empty list where no fact looks like legal content is rejected.
func ValidateFacts(facts []string) error {
	if len(facts) == 0 {
		return nil
	}

	validFacts := 0
	for _, fact := range facts {
		lower := strings.ToLower(fact)
		if len(fact) > 20 && countKeywords(lower, factKeywords) > 0 {
			validFacts++
		}
	}

	if validFacts == 0 {
		return NewInputError("The extracted facts do not appear to be valid legal content. Please provide meaningful legal text or case narrative.")
	}

	return nil
}

// JoinFacts renders a fact list the same way the prediction and similarity
// paths embed it, so validation sees the exact text that gets encoded.
func JoinFacts(facts []string) string {
	parts := make([]string, 0, len(facts))
	for _, fact := range facts {
		parts = append(parts, "- "+fact)
	}
	return strings.Join(parts, "\n")
}

func countKeywords(lower string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}

func distinctChars(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}
