// Package feature computes the derived feature vector for each new sample
// from an instrument's rolling window. All functions are pure: identical
// window contents always produce identical output.
package feature

import "math"

// SMA returns the simple moving average of the last period values.
// ok is false when fewer than period values exist.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average with smoothing k = 2/(period+1),
// seeded with the SMA of the first period values.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	k := 2.0 / float64(period+1)
	ema := 0.0
	for _, v := range values[:period] {
		ema += v
	}
	ema /= float64(period)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema, true
}

// RSI returns the Relative Strength Index over the value series using
// Wilder's smoothing: the initial averages are SMAs of the first period
// gains/losses, subsequent values use avg = (avg*(period-1) + x) / period.
// Requires at least period+1 values.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		if avgGain > 0 {
			return 100, true
		}
		return 50, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// StdDev returns the population standard deviation of the values.
// ok is false with fewer than 2 values.
func StdDev(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance), true
}

// ZScore returns (value - mean) / std. ok is false for a zero or non-finite
// denominator — a degenerate window must read as "not ready", never as 0.
func ZScore(value, mean, std float64) (float64, bool) {
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return 0, false
	}
	return (value - mean) / std, true
}

// Return returns (current - previous) / previous, or NaN when previous is
// zero or either input is NaN.
func Return(current, previous float64) float64 {
	if previous == 0 || math.IsNaN(previous) || math.IsNaN(current) {
		return math.NaN()
	}
	return (current - previous) / previous
}
