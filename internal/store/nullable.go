package store

import "math"

// nullable maps NaN and infinities to SQL NULL. Several contract fields
// legitimately carry NaN (undefined variability, oracle with no forward
// data) and NUMERIC columns reject non-finite values.
func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
