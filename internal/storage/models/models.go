package models

import "time"

// CorpusRecord is one historical appeal case. Records load once into an
// in-memory table whose order matches the precomputed embedding matrix:
// record RowIdx i corresponds to matrix row i, and that alignment must never
// drift.
type CorpusRecord struct {
	RowIdx    int
	CaseName  string
	CleanText string
	WinLose   string
	Outcome   string
	Court     string
	DateFiled string
	DocketID  string
}

// PredictionRecord is the audit row written after every completed prediction.
type PredictionRecord struct {
	ID            string
	TextLength    int
	Label         string
	RawConfidence float64
	Probability   float64
	Uncertain     bool
	Judgment      string
	FactCount     int
	LatencyMS     int64
	CreatedAt     time.Time
}
