package anomaly

import (
	"testing"
)

func steadyHistory(v float64, n int) []float64 {
	h := make([]float64, n)
	for i := range h {
		h[i] = v
	}
	return h
}

func TestSPCScorerNeedsBaseline(t *testing.T) {
	s := &SPCScorer{SigmaMultiplier: 3}

	expected, score := s.Score(1, "oil_rate", 5000, []float64{100, 101, 99})
	if score != 0 {
		t.Errorf("score = %v, want 0 with insufficient history", score)
	}
	if expected != 5000 {
		t.Errorf("expected = %v, want the raw value back", expected)
	}
}

func TestSPCScorerScoresDistanceFromMean(t *testing.T) {
	s := &SPCScorer{SigmaMultiplier: 3}
	// mean 100, sigma 10
	history := []float64{90, 110, 90, 110, 90, 110, 90, 110}

	testCases := []struct {
		name  string
		value float64
		want  float64
	}{
		{"at the mean", 100, 0},
		{"one sigma out", 110, 1.0 / 3.0},
		{"three sigma out", 130, 1},
		{"far beyond is capped", 1000, 1},
		{"symmetric below the mean", 70, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expected, score := s.Score(1, "oil_rate", tc.value, history)
			if expected != 100 {
				t.Errorf("expected = %v, want window mean 100", expected)
			}
			if diff := score - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("score = %v, want %v", score, tc.want)
			}
		})
	}
}

func TestSPCScorerFlatBaseline(t *testing.T) {
	s := &SPCScorer{SigmaMultiplier: 3}
	history := steadyHistory(200, 10)

	if _, score := s.Score(1, "gas_rate", 200, history); score != 0 {
		t.Errorf("score = %v, want 0 when value matches a flat baseline", score)
	}
	if _, score := s.Score(1, "gas_rate", 201, history); score != 1 {
		t.Errorf("score = %v, want 1 for any departure from a flat baseline", score)
	}
}

func TestThresholdScorerBands(t *testing.T) {
	s := &ThresholdScorer{Bands: map[string]Band{
		"oil_rate": {Low: 10, High: 1000},
	}}

	testCases := []struct {
		name         string
		parameter    string
		value        float64
		wantExpected float64
		wantScore    float64
	}{
		{"inside band", "oil_rate", 500, 500, 0},
		{"below band", "oil_rate", 5, 10, 1},
		{"above band", "oil_rate", 1500, 1000, 1},
		{"unbanded parameter", "water_rate", 9999, 9999, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expected, score := s.Score(1, tc.parameter, tc.value, nil)
			if expected != tc.wantExpected {
				t.Errorf("expected = %v, want %v", expected, tc.wantExpected)
			}
			if score != tc.wantScore {
				t.Errorf("score = %v, want %v", score, tc.wantScore)
			}
		})
	}
}
