package model

// Calibration thresholds come from the training data distribution: win cases
// average ~1731 chars while lose cases average ~106, so short argumentative
// texts that predict "win" with high confidence are usually overconfident.
const (
	shortTextThreshold    = 500
	veryShortThreshold    = 200
	maxRealisticConfident = 0.95
)

// Calibrate adjusts a raw win probability for text length and unrealistic
// certainty. It returns the calibrated probability and whether the prediction
// should be flagged uncertain. Callers must re-derive the final label from
// the calibrated probability at the 0.5 threshold; calibration can flip the
// raw classifier label.
func Calibrate(winProbability float64, textLength int, predictedLabel string) (float64, bool) {
	// No legal outcome is ever certain. Compress the excess above 95% by
	// keeping only 30% of it.
	if winProbability > maxRealisticConfident {
		excess := winProbability - maxRealisticConfident
		winProbability = maxRealisticConfident + excess*0.3
	}

	if predictedLabel == LabelWin && textLength < shortTextThreshold {
		factor := 0.5
		if textLength < veryShortThreshold {
			factor = 0.3
		}

		var calibrated float64
		if winProbability > 0.9 {
			calibrated = 0.5 + (winProbability-0.5)*factor
		} else {
			calibrated = winProbability*factor + (1-factor)*0.5
		}

		if calibrated < 0.5 {
			calibrated = 0.5
		}
		if calibrated > winProbability {
			calibrated = winProbability
		}

		uncertain := winProbability > 0.85
		return calibrated, uncertain
	}

	return winProbability, winProbability > 0.90
}

// DeriveLabel keeps the label consistent with the calibrated probability:
// win iff the probability is at least 0.5.
func DeriveLabel(calibratedProbability float64) string {
	if calibratedProbability >= 0.5 {
		return LabelWin
	}
	return LabelLose
}
