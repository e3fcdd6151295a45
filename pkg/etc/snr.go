package etc

import "math"

// evalSNR computes the cumulative signal-to-noise ratio at each time of an
// increasing time vector, given pointwise calibrated signal and background
// rates. Cumulative counts are trapezoidal-rule integrals from the first
// time; the SNR at each step is Scum/sqrt(Scum+Bcum).
//
// By convention the SNR at the first time is 0 (nothing has been integrated
// yet), and any step where either cumulative sum is non-positive also yields
// 0. That guard only matters for sampled paths, which can dip negative; the
// nominal curve from the mean predictions is checked non-decreasing by the
// caller.
func evalSNR(dt, sig, bg []float64) []float64 {
	snr := make([]float64, len(dt))
	var scum, bcum float64
	for i := 1; i < len(dt); i++ {
		step := 0.5 * (dt[i] - dt[i-1])
		scum += step * (sig[i] + sig[i-1])
		bcum += step * (bg[i] + bg[i-1])
		tot := scum + bcum
		if scum <= 0 || tot <= 0 {
			snr[i] = 0
			continue
		}
		snr[i] = scum / math.Sqrt(tot)
	}
	return snr
}

// goalCrossing locates the elapsed time at which the SNR curve first reaches
// goal, by monotone interpolation of time as a function of SNR. When the
// goal is never reached within the grid the result is clamped to the final
// grid time; that clamp is exactly the timeout signal.
func goalCrossing(dt, snr []float64, goal float64) float64 {
	for i, v := range snr {
		if v < goal {
			continue
		}
		if i == 0 || snr[i] == snr[i-1] {
			return dt[i]
		}
		frac := (goal - snr[i-1]) / (snr[i] - snr[i-1])
		return dt[i-1] + frac*(dt[i]-dt[i-1])
	}
	return dt[len(dt)-1]
}
