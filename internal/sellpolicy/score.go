package sellpolicy

import "math"

// maxScore caps the severity scale.
const maxScore = 6

// scoreAt computes the severity score of one held ticker at session si:
// downside z band (0..3) + persistence bonuses + rule-evidence bonuses,
// capped at maxScore.
func (e *evaluator) scoreAt(ticker string, ti, si int) int {
	z := e.z[ti][si]
	score := downsideBand(z)

	// Persistence: at least two of the last three z observations negative.
	neg := 0
	for k := 0; k < 3; k++ {
		j := si - k
		if j < 0 {
			break
		}
		if v := e.z[ti][j]; !math.IsNaN(v) && v < 0 {
			neg++
		}
	}
	if neg >= 2 {
		score++
	}
	// Deep stress two days running.
	if si >= 1 {
		y := e.z[ti][si-1]
		if !math.IsNaN(z) && !math.IsNaN(y) && z < -2 && y < -2 {
			score++
		}
	}

	flag := e.flags.Get(ticker, e.cal.At(si))
	if flag.Any {
		score++
	}
	if flag.Strong {
		score += 2
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// downsideBand buckets a z-score by depth below the mean: thresholds at
// -1, -2 and -3 standard deviations.
func downsideBand(z float64) int {
	switch {
	case math.IsNaN(z) || z > -1:
		return 0
	case z > -2:
		return 1
	case z > -3:
		return 2
	}
	return 3
}
