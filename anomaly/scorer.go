package anomaly

import (
	"math"
)

// Scorer scores one parameter value against a well's recent history. The
// pipeline does not mandate a statistical variant; anything producing an
// expected value and a score in [0, 1] can plug in here.
type Scorer interface {
	Method() string
	Score(wellID int, parameter string, value float64, history []float64) (expected, score float64)
}

// minBaselineSamples is the least history required before a scorer will
// claim any confidence.
const minBaselineSamples = 6

// SPCScorer scores by statistical process control: distance from the
// window mean measured in standard deviations, normalized by the sigma
// multiplier so a value at mean +/- k*sigma scores 1.0.
type SPCScorer struct {
	SigmaMultiplier float64
}

func (s *SPCScorer) Method() string { return "spc" }

func (s *SPCScorer) Score(wellID int, parameter string, value float64, history []float64) (float64, float64) {
	if len(history) < minBaselineSamples {
		return value, 0
	}

	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(len(history))

	var sq float64
	for _, v := range history {
		d := v - mean
		sq += d * d
	}
	sigma := math.Sqrt(sq / float64(len(history)))

	if sigma == 0 {
		if value == mean {
			return mean, 0
		}
		return mean, 1
	}

	k := s.SigmaMultiplier
	if k <= 0 {
		k = 3
	}
	score := math.Abs(value-mean) / (sigma * k)
	if score > 1 {
		score = 1
	}
	return mean, score
}

// Band is a static acceptable range for one parameter
type Band struct {
	Low  float64
	High float64
}

// ThresholdScorer scores by static per-parameter bands: inside the band
// scores 0, outside scores 1 with the violated bound as expected value.
type ThresholdScorer struct {
	Bands map[string]Band
}

func (s *ThresholdScorer) Method() string { return "threshold" }

func (s *ThresholdScorer) Score(wellID int, parameter string, value float64, history []float64) (float64, float64) {
	band, ok := s.Bands[parameter]
	if !ok {
		return value, 0
	}
	if value < band.Low {
		return band.Low, 1
	}
	if value > band.High {
		return band.High, 1
	}
	return value, 0
}
