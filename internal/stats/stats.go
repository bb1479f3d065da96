// Package stats holds the small descriptive statistics used by the analysis stages.
package stats

import "math"

// MeanStd computes the mean and population standard deviation (N denominator).
// A single element has zero spread.
func MeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))

	if len(data) == 1 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(varianceSum / float64(len(data)))
}

// SampleStd computes the sample standard deviation (N-1 denominator). It returns 0
// for fewer than two points.
func SampleStd(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	mean, _ := MeanStd(data)
	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return math.Sqrt(varianceSum / float64(len(data)-1))
}

// ZScore is the absolute distance of v from mean in units of std. Zero std yields 0.
func ZScore(v, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return math.Abs(v-mean) / std
}
