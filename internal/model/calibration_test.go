package model

import (
	"math"
	"testing"
)

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name          string
		winProb       float64
		textLength    int
		label         string
		wantProb      float64
		wantUncertain bool
	}{
		{
			name:          "long text passes through",
			winProb:       0.80,
			textLength:    2000,
			label:         LabelWin,
			wantProb:      0.80,
			wantUncertain: false,
		},
		{
			name:          "long text high confidence flagged uncertain",
			winProb:       0.92,
			textLength:    2000,
			label:         LabelWin,
			wantProb:      0.92,
			wantUncertain: true,
		},
		{
			name:       "overconfidence compressed above 95 percent",
			winProb:    0.99,
			textLength: 2000,
			label:      LabelWin,
			// 0.95 + 0.04*0.3
			wantProb:      0.962,
			wantUncertain: true,
		},
		{
			name:       "short win text dampened toward 0.5",
			winProb:    0.80,
			textLength: 300,
			label:      LabelWin,
			// 0.80*0.5 + 0.5*0.5
			wantProb:      0.65,
			wantUncertain: false,
		},
		{
			name:       "very short win text dampened harder",
			winProb:    0.80,
			textLength: 100,
			label:      LabelWin,
			// 0.80*0.3 + 0.7*0.5
			wantProb:      0.59,
			wantUncertain: false,
		},
		{
			name:       "short win text above 0.9 uses spread formula",
			winProb:    0.94,
			textLength: 300,
			label:      LabelWin,
			// 0.5 + (0.94-0.5)*0.5
			wantProb:      0.72,
			wantUncertain: true,
		},
		{
			name:       "very short near-certain win",
			winProb:    0.99,
			textLength: 50,
			label:      LabelWin,
			// compressed to 0.962, then 0.5 + 0.462*0.3
			wantProb:      0.6386,
			wantUncertain: true,
		},
		{
			name:          "short lose text untouched",
			winProb:       0.10,
			textLength:    100,
			label:         LabelLose,
			wantProb:      0.10,
			wantUncertain: false,
		},
		{
			name:       "calibrated never exceeds raw probability",
			winProb:    0.55,
			textLength: 300,
			label:      LabelWin,
			// 0.55*0.5 + 0.25 = 0.525 < 0.55, keeps dampened value
			wantProb:      0.525,
			wantUncertain: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotProb, gotUncertain := Calibrate(tt.winProb, tt.textLength, tt.label)
			if math.Abs(gotProb-tt.wantProb) > 1e-9 {
				t.Errorf("Calibrate prob = %v, want %v", gotProb, tt.wantProb)
			}
			if gotUncertain != tt.wantUncertain {
				t.Errorf("Calibrate uncertain = %v, want %v", gotUncertain, tt.wantUncertain)
			}
		})
	}
}

func TestCalibrateClampsAtHalf(t *testing.T) {
	// A barely-win prediction on short text must not calibrate below 0.5.
	got, _ := Calibrate(0.51, 100, LabelWin)
	if got < 0.5 {
		t.Errorf("calibrated %v below 0.5 floor", got)
	}
	if got > 0.51 {
		t.Errorf("calibrated %v above raw probability", got)
	}
}

func TestDeriveLabel(t *testing.T) {
	if got := DeriveLabel(0.5); got != LabelWin {
		t.Errorf("DeriveLabel(0.5) = %q, want win", got)
	}
	if got := DeriveLabel(0.499); got != LabelLose {
		t.Errorf("DeriveLabel(0.499) = %q, want lose", got)
	}
}
