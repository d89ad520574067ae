package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lexpredict/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.InitSchema(); err != nil {
		t.Fatal(err)
	}
	return client
}

func TestCorpusRoundTrip(t *testing.T) {
	client := newTestClient(t)

	records := []models.CorpusRecord{
		{
			RowIdx:    0,
			CaseName:  "Smith v. United States",
			CleanText: "The court reversed the conviction.",
			WinLose:   "win",
			Outcome:   "reversed",
			Court:     "scotus",
			DateFiled: "2019-03-01",
			DocketID:  "18-431",
		},
		{
			RowIdx:    1,
			CleanText: "The court affirmed the judgment.",
			WinLose:   "lose",
		},
	}
	for i := range records {
		if err := client.InsertCorpusRecord(&records[i]); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := client.LoadCorpus()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(records, loaded); diff != "" {
		t.Errorf("corpus mismatch (-want +got):\n%s", diff)
	}

	count, err := client.CountCorpus()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestLoadCorpusOrdersByRowIdx(t *testing.T) {
	client := newTestClient(t)

	// Insert out of order; the load contract is ascending row_idx.
	for _, idx := range []int{2, 0, 1} {
		rec := models.CorpusRecord{
			RowIdx:    idx,
			CleanText: "Opinion text.",
			WinLose:   "win",
		}
		if err := client.InsertCorpusRecord(&rec); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := client.LoadCorpus()
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range loaded {
		if r.RowIdx != i {
			t.Errorf("position %d has row_idx %d", i, r.RowIdx)
		}
	}
}

func TestInsertCorpusRecordReplaces(t *testing.T) {
	client := newTestClient(t)

	rec := models.CorpusRecord{RowIdx: 0, CleanText: "First version.", WinLose: "win"}
	if err := client.InsertCorpusRecord(&rec); err != nil {
		t.Fatal(err)
	}
	rec.CleanText = "Second version."
	if err := client.InsertCorpusRecord(&rec); err != nil {
		t.Fatal(err)
	}

	loaded, err := client.LoadCorpus()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].CleanText != "Second version." {
		t.Errorf("loaded = %v, want single replaced record", loaded)
	}
}

func TestPredictionHistory(t *testing.T) {
	client := newTestClient(t)

	base := time.Now().Truncate(time.Second)
	for i, rec := range []models.PredictionRecord{
		{
			ID:            "older",
			TextLength:    800,
			Label:         "lose",
			RawConfidence: 0.4,
			Probability:   0.4,
			Judgment:      "Judgment in Favor of Plaintiff",
			FactCount:     3,
			LatencyMS:     120,
		},
		{
			ID:            "newer",
			TextLength:    1200,
			Label:         "win",
			RawConfidence: 0.97,
			Probability:   0.96,
			Uncertain:     true,
			Judgment:      "Judgment in Favor of Defendant",
			FactCount:     5,
			LatencyMS:     95,
		},
	} {
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := client.InsertPrediction(&rec); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := client.GetRecentPredictions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}
	if recent[0].ID != "newer" {
		t.Errorf("first record = %q, want newest first", recent[0].ID)
	}
	if !recent[0].Uncertain {
		t.Error("uncertain flag lost on round trip")
	}
	if recent[1].Uncertain {
		t.Error("certain prediction flagged uncertain")
	}
	if recent[0].Judgment != "Judgment in Favor of Defendant" {
		t.Errorf("judgment = %q", recent[0].Judgment)
	}

	limited, err := client.GetRecentPredictions(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "newer" {
		t.Errorf("limited = %v, want only the newest", limited)
	}
}

func TestDuplicatePredictionIDRejected(t *testing.T) {
	client := newTestClient(t)

	rec := models.PredictionRecord{
		ID:         "dup",
		TextLength: 100,
		Label:      "win",
		CreatedAt:  time.Now(),
	}
	if err := client.InsertPrediction(&rec); err != nil {
		t.Fatal(err)
	}
	if err := client.InsertPrediction(&rec); err == nil {
		t.Error("expected primary key violation for duplicate id")
	}
}
