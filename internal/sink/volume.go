package sink

import "math"

// LinearToLog converts a linear 0..100 volume to its logarithmic 0..100
// representation: log = round(50 * log10(1 + 100*x)) where x is the
// linear value mapped to [0,1] (spec §4.1 volume formulas).
func LinearToLog(linear int) int {
	x := float64(clampVolume(linear)) / 100
	v := 50 * math.Log10(1+100*x)
	return int(math.Round(v))
}

// LogToLinear is the analytic inverse of LinearToLog.
func LogToLinear(logVal int) int {
	logVal = clampVolume(logVal)
	x := (math.Pow(10, float64(logVal)/50) - 1) / 100
	return clampVolume(int(math.Round(x * 100)))
}
