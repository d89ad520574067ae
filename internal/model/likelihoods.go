package model

import (
	"math"
	"strings"

	"github.com/lexpredict/backend/internal/storage/models"
)

var (
	winOutcomeTags  = []string{"reversed", "granted"}
	loseOutcomeTags = []string{"affirmed", "denied", "dismissed", "remanded"}
)

// OutcomeLikelihoods computes the historical distribution of fine-grained
// outcome tags among corpus cases sharing the predicted binary label.
// Percentages are rounded to one decimal. An empty subgroup yields an
// all-zero map, never an error.
func OutcomeLikelihoods(records []models.CorpusRecord, label string) map[string]float64 {
	tags := loseOutcomeTags
	if label == LabelWin {
		tags = winOutcomeTags
	}

	result := make(map[string]float64, len(tags))
	for _, tag := range tags {
		result[tag] = 0.0
	}

	counts := make(map[string]int, len(tags))
	total := 0
	for _, r := range records {
		if r.WinLose != label {
			continue
		}
		total++
		outcome := strings.ToLower(strings.TrimSpace(r.Outcome))
		for _, tag := range tags {
			if outcome == tag {
				counts[tag]++
				break
			}
		}
	}

	if total == 0 {
		return result
	}

	for _, tag := range tags {
		pct := float64(counts[tag]) / float64(total) * 100
		result[tag] = math.Round(pct*10) / 10
	}

	return result
}
