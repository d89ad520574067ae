package facts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const opinionText = "The defendant was convicted of fraud at trial and now appeals the judgment, " +
	"arguing that the evidence presented to the jury was insufficient to sustain the conviction."

type recordingGenerator struct {
	response string
	err      error
	calls    int
}

func (g *recordingGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	g.calls++
	return g.response, g.err
}

func TestExtractInvalidTextSkipsGenerator(t *testing.T) {
	gen := &recordingGenerator{response: "- should never be used"}
	e := NewExtractor(gen)

	facts := e.Extract(context.Background(), "1+1=2", "")
	if facts != nil {
		t.Errorf("invalid text yielded facts: %v", facts)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for invalid text, want 0", gen.calls)
	}
}

func TestExtractWithGenerator(t *testing.T) {
	gen := &recordingGenerator{response: "- Defendant convicted of fraud\n- Appeal challenges evidence sufficiency"}
	e := NewExtractor(gen)

	facts := e.Extract(context.Background(), opinionText, "")
	want := []string{
		"Defendant convicted of fraud",
		"Appeal challenges evidence sufficiency",
	}
	if diff := cmp.Diff(want, facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}
}

func TestExtractFallsBackOnGeneratorError(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("rate limited")}
	e := NewExtractor(gen)

	facts := e.Extract(context.Background(), opinionText, "")
	if len(facts) == 0 {
		t.Fatal("fallback should still produce facts")
	}
	joined := strings.Join(facts, "\n")
	if !strings.Contains(joined, "appeal case") {
		t.Errorf("fallback facts missing appeal fact: %v", facts)
	}
}

func TestExtractFallsBackOnUnparseableResponse(t *testing.T) {
	gen := &recordingGenerator{response: "# Header\nshort\n## Another"}
	e := NewExtractor(gen)

	facts := e.Extract(context.Background(), opinionText, "")
	if len(facts) == 0 {
		t.Fatal("unparseable response should fall back to keywords")
	}
	if strings.Contains(strings.Join(facts, "\n"), "Header") {
		t.Errorf("header line leaked into facts: %v", facts)
	}
}

func TestExtractNilGenerator(t *testing.T) {
	e := NewExtractor(nil)

	facts := e.Extract(context.Background(), opinionText, "Criminal")
	joined := strings.Join(facts, "\n")
	for _, want := range []string{
		"accused of fraud",
		"ruled against",
		"Evidence issues",
		"appeal case",
		"Nature of suit: Criminal",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("facts missing %q:\n%s", want, joined)
		}
	}
}

func TestParseBullets(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{
			name:     "dash bullets",
			response: "- first fact\n- second fact",
			want:     []string{"first fact", "second fact"},
		},
		{
			name:     "unicode and star bullets",
			response: "• first fact\n* second fact",
			want:     []string{"first fact", "second fact"},
		},
		{
			name:     "numbered list",
			response: "1. first numbered fact\n2. second numbered fact",
			want:     []string{"first numbered fact", "second numbered fact"},
		},
		{
			name:     "plain long lines",
			response: "a plain fact with enough length",
			want:     []string{"a plain fact with enough length"},
		},
		{
			name:     "headers and short lines dropped",
			response: "# Facts\nok\n- real fact here",
			want:     []string{"real fact here"},
		},
		{
			name:     "empty response",
			response: "\n\n",
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, parseBullets(tt.response)); diff != "" {
				t.Errorf("parseBullets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseBulletsCapsAtMaxFacts(t *testing.T) {
	var lines []string
	for i := 0; i < MaxFacts+5; i++ {
		lines = append(lines, "- a fact that keeps repeating")
	}
	facts := parseBullets(strings.Join(lines, "\n"))
	if len(facts) != MaxFacts {
		t.Errorf("got %d facts, want %d", len(facts), MaxFacts)
	}
}

func TestExtractSimple(t *testing.T) {
	tests := []struct {
		name string
		text string
		nos  string
		want []string
	}{
		{
			name: "specific accusation wins over generic",
			text: "The appellant was charged with murder after the incident.",
			want: []string{
				"Defendant/appellant is accused of murder",
				"This is an appeal case",
				"This is a criminal case",
			},
		},
		{
			name: "generic charges when no known offense",
			text: "The defendant was accused of jaywalking by the city.",
			want: []string{"Defendant/appellant faces criminal charges"},
		},
		{
			name: "acquittal phrasing",
			text: "The man was found not guilty after deliberation.",
			want: []string{"Trial court ruled in favor of the defendant/appellant"},
		},
		{
			name: "insufficient evidence outranks generic evidence",
			text: "The man was convicted but the record shows insufficient evidence on appeal.",
			want: []string{
				"Trial court ruled against the defendant/appellant",
				"There is no substantive evidence or insufficient evidence to support the accusations",
				"This is an appeal case",
			},
		},
		{
			name: "civil classification",
			text: "The plaintiff filed a lawsuit seeking damages for breach of contract.",
			want: []string{"This is a civil case"},
		},
		{
			name: "nature of suit appended",
			text: "The appellant seeks review of the order.",
			nos:  "Contract",
			want: []string{
				"This is an appeal case",
				"Nature of suit: Contract",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, extractSimple(tt.text, tt.nos)); diff != "" {
				t.Errorf("extractSimple mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractSimpleFirstSentenceFallback(t *testing.T) {
	text := "The parties reached a settlement after negotiations before the tribunal concluded. More text follows here."

	facts := extractSimple(text, "")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1 salvaged sentence: %v", len(facts), facts)
	}
	want := "The parties reached a settlement after negotiations before the tribunal concluded"
	if facts[0] != want {
		t.Errorf("salvaged sentence = %q, want %q", facts[0], want)
	}
}

func TestFirstSentenceBounds(t *testing.T) {
	if got := firstSentence("Too short."); got != "" {
		t.Errorf("short sentence should be rejected, got %q", got)
	}
	long := strings.Repeat("word ", 50) + "."
	if got := firstSentence(long); got != "" {
		t.Errorf("overlong sentence should be rejected, got %q", got)
	}
}
