package share

import "math/rand/v2"

// Quality score bounds, inclusive.
const (
	QualityMin = 60
	QualityMax = 99
)

// SampleQuality returns a uniform score in [QualityMin, QualityMax].
// intn must behave like rand.IntN; nil uses math/rand/v2.
func SampleQuality(intn func(int) int) int {
	if intn == nil {
		intn = rand.IntN
	}
	return QualityMin + intn(QualityMax-QualityMin+1)
}
