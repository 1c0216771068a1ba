package domain

// The voice analyzer does not always report stress and anxiety directly. When
// it does not, they are derived from the emotion vector: stress tracks the
// high-activation negative emotions (anger, fear), anxiety the fear/sadness
// pair. Weights are fractions in [0,1]; the derived levels use the 0-100
// scale of the analyzer.

// DeriveStress computes a stress level from an emotion weight vector.
func DeriveStress(weights map[string]float64) float64 {
	return clampLevel((weights["anger"] + weights["fear"]) * 100)
}

// DeriveAnxiety computes an anxiety level from an emotion weight vector.
func DeriveAnxiety(weights map[string]float64) float64 {
	return clampLevel((weights["fear"] + weights["sadness"]) * 100)
}

func clampLevel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
