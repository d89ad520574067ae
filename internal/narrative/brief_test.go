package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lexpredict/backend/internal/retrieval"
	"github.com/lexpredict/backend/internal/validation"
)

func briefRequest() BriefRequest {
	return BriefRequest{
		Facts: []string{
			"Defendant convicted of fraud",
			"Appeal challenges evidence sufficiency",
		},
		SimilarCases: []retrieval.SimilarCase{
			{CaseName: "Smith v. United States", Outcome: "win", OriginalOutcome: "reversed", Snippet: "The court reversed."},
			{CaseName: "Jones v. State", Outcome: "lose", OriginalOutcome: "affirmed"},
			{CaseName: "Unknown", Outcome: "win", OriginalOutcome: "granted"},
		},
		NatureOfSuit: "Criminal",
		Judgment:     "Judgment in Favor of Defendant",
	}
}

func TestComposeRequiresFacts(t *testing.T) {
	c := NewComposer(nil)

	_, _, err := c.Compose(context.Background(), BriefRequest{})
	if err == nil {
		t.Fatal("expected error for empty facts")
	}
	var inputErr *validation.InputError
	if !errors.As(err, &inputErr) {
		t.Errorf("error type = %T, want *validation.InputError", err)
	}
}

func TestComposeWithGenerator(t *testing.T) {
	gen := &stubGenerator{response: "ARGUMENT\nThe judgment should be reversed."}
	c := NewComposer(gen)

	brief, citations, err := c.Compose(context.Background(), briefRequest())
	if err != nil {
		t.Fatal(err)
	}
	if brief != gen.response {
		t.Errorf("brief = %q, want generator output", brief)
	}
	want := []string{"Smith v. United States (reversed)"}
	if diff := cmp.Diff(want, citations); diff != "" {
		t.Errorf("citations mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(gen.lastUser, "RELEVANT PRECEDENTS WHERE DEFENDANT/APPELLANT PREVAILED") {
		t.Error("prompt missing precedents section")
	}
	if strings.Contains(gen.lastUser, "Jones v. State") {
		t.Error("losing precedent leaked into prompt")
	}
	if !strings.Contains(gen.lastUser, "1. Defendant convicted of fraud") {
		t.Error("prompt missing numbered facts")
	}
}

func TestComposeSkeletonWithoutGenerator(t *testing.T) {
	c := NewComposer(nil)

	brief, citations, err := c.Compose(context.Background(), briefRequest())
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"APPELLATE BRIEF FOR DEFENDANT/APPELLANT",
		"STATEMENT OF THE CASE",
		"Nature of Suit: Criminal",
		"STATEMENT OF FACTS",
		"1. Defendant convicted of fraud",
		"SUPPORTING PRECEDENTS",
		"1. Smith v. United States (reversed)",
		"CONCLUSION",
		"[Automated draft assembled from the case facts and precedents above.",
	} {
		if !strings.Contains(brief, want) {
			t.Errorf("skeleton missing %q:\n%s", want, brief)
		}
	}
	if strings.Contains(brief, "Jones v. State") {
		t.Error("losing precedent cited in skeleton")
	}
	// The unnamed winning case still counts as a precedent but never as a
	// citation.
	want := []string{"Smith v. United States (reversed)"}
	if diff := cmp.Diff(want, citations); diff != "" {
		t.Errorf("citations mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeFallsBackWhenGeneratorFails(t *testing.T) {
	gen := &stubGenerator{err: errors.New("overloaded")}
	c := NewComposer(gen)

	brief, _, err := c.Compose(context.Background(), briefRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(brief, "APPELLATE BRIEF FOR DEFENDANT/APPELLANT") {
		t.Errorf("expected skeleton fallback, got:\n%s", brief)
	}
}

func TestComposeImprovementMode(t *testing.T) {
	gen := &stubGenerator{response: "Improved brief."}
	c := NewComposer(gen)

	req := briefRequest()
	req.ImprovementInstructions = "Emphasize the evidence issues"
	req.ExistingBrief = "Original brief text."

	brief, _, err := c.Compose(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if brief != "Improved brief." {
		t.Errorf("brief = %q", brief)
	}
	if !strings.Contains(gen.lastUser, "USER'S IMPROVEMENT INSTRUCTIONS:\nEmphasize the evidence issues") {
		t.Error("prompt missing improvement instructions")
	}
	if !strings.Contains(gen.lastUser, "EXISTING BRIEF:\nOriginal brief text.") {
		t.Error("prompt missing existing brief")
	}
}

func TestComposeImprovementNeedsBothFields(t *testing.T) {
	gen := &stubGenerator{response: "brief"}
	c := NewComposer(gen)

	req := briefRequest()
	req.ImprovementInstructions = "Shorten it"

	if _, _, err := c.Compose(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(gen.lastUser, "USER'S IMPROVEMENT INSTRUCTIONS") {
		t.Error("instructions without an existing brief should draft, not improve")
	}
}

func TestSkeletonBriefCapsPrecedents(t *testing.T) {
	var cases []retrieval.SimilarCase
	for i := 0; i < maxBriefPrecedents+3; i++ {
		cases = append(cases, retrieval.SimilarCase{CaseName: "Case v. Case", Outcome: "win"})
	}
	req := BriefRequest{Facts: []string{"A fact"}, SimilarCases: cases}
	winning, _ := winningPrecedents(cases)

	brief := skeletonBrief(req, winning)
	if strings.Count(brief, "Case v. Case") != maxBriefPrecedents {
		t.Errorf("skeleton should cap precedents at %d:\n%s", maxBriefPrecedents, brief)
	}
}

func TestPrecedentsContextTruncatesSnippets(t *testing.T) {
	long := strings.Repeat("s", briefSnippetLimit+50)
	ctx := precedentsContext([]retrieval.SimilarCase{
		{CaseName: "Smith v. Jones", Outcome: "win", Snippet: long},
	})
	if strings.Contains(ctx, strings.Repeat("s", briefSnippetLimit+1)) {
		t.Error("snippet quoted beyond limit")
	}
	if !strings.Contains(ctx, strings.Repeat("s", briefSnippetLimit)+"...") {
		t.Error("truncated snippet missing ellipsis")
	}
}
