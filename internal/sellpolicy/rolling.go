package sellpolicy

import "math"

// rollingMeanStd computes rolling mean and population (ddof=0) standard
// deviation over the trailing lookback window, requiring at least
// minPeriods finite values. Cells without enough data are NaN; a zero
// deviation is reported as NaN so downstream z-scores stay undefined
// instead of exploding.
func rollingMeanStd(series []float64, lookback, minPeriods int) (mean, std []float64) {
	n := len(series)
	mean = make([]float64, n)
	std = make([]float64, n)
	for i := range mean {
		mean[i] = math.NaN()
		std[i] = math.NaN()
	}

	for i := 0; i < n; i++ {
		lo := i - lookback + 1
		if lo < 0 {
			lo = 0
		}
		var sum, sumSq float64
		cnt := 0
		for j := lo; j <= i; j++ {
			v := series[j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v
			sumSq += v * v
			cnt++
		}
		if cnt < minPeriods || cnt == 0 {
			continue
		}
		m := sum / float64(cnt)
		variance := sumSq/float64(cnt) - m*m
		if variance < 0 {
			variance = 0
		}
		s := math.Sqrt(variance)
		mean[i] = m
		if s > 0 {
			std[i] = s
		}
	}
	return mean, std
}

// rollingZ standardizes each value against its own trailing window.
func rollingZ(series []float64, lookback, minPeriods int) (z, std []float64) {
	mean, sd := rollingMeanStd(series, lookback, minPeriods)
	z = make([]float64, len(series))
	for i, v := range series {
		if math.IsNaN(v) || math.IsNaN(mean[i]) || math.IsNaN(sd[i]) {
			z[i] = math.NaN()
			continue
		}
		z[i] = (v - mean[i]) / sd[i]
	}
	return z, sd
}

// rollingSlope computes the OLS slope of the trailing window ending at each
// index. NaN unless every value in the window is finite.
func rollingSlope(series []float64, window int) []float64 {
	n := len(series)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if window < 2 {
		return out
	}

	xMean := float64(window-1) / 2
	var denX float64
	for i := 0; i < window; i++ {
		dx := float64(i) - xMean
		denX += dx * dx
	}

	for i := window - 1; i < n; i++ {
		win := series[i-window+1 : i+1]
		ok := true
		var yMean float64
		for _, v := range win {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
			yMean += v
		}
		if !ok {
			continue
		}
		yMean /= float64(window)
		var num float64
		for j, v := range win {
			num += (float64(j) - xMean) * (v - yMean)
		}
		out[i] = num / denX
	}
	return out
}
