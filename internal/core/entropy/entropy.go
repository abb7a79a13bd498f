// Package entropy keeps a sliding window of emitted numbers and scores how
// random they look. The scores are indicators for dashboards, not
// statistical certification.
package entropy

import (
	"errors"
	"math"
	"sort"
	"sync"
)

// DefaultBufferSize is the number of recent values analysed.
const DefaultBufferSize = 1000

// Thresholds below which a score is undefined and a neutral 0.5 is used.
const (
	MinScoreSamples = 10
	MinTestSamples  = 100
)

// ErrInsufficientData is returned by Tests for fewer than MinTestSamples values.
var ErrInsufficientData = errors.New("at least 100 values are required")

// Quality levels.
const (
	LevelExcellent    = "Excellent"
	LevelVeryGood     = "Very Good"
	LevelGood         = "Good"
	LevelFair         = "Fair"
	LevelPoor         = "Poor"
	LevelInsufficient = "Insufficient Data"
)

// TestResult holds the descriptive statistics and scores of a sample.
type TestResult struct {
	Count           int     `json:"count"`
	Mean            float64 `json:"mean"`
	StdDev          float64 `json:"std_dev"`
	Min             int     `json:"min"`
	Max             int     `json:"max"`
	Entropy         float64 `json:"entropy"`
	ChiSquare       float64 `json:"chi_square"`
	Uniformity      float64 `json:"uniformity"`
	Autocorrelation float64 `json:"autocorrelation"`
	Runs            float64 `json:"runs"`
}

// Summary is the quality report over the analyser's window.
type Summary struct {
	SampleSize     int         `json:"sample_size"`
	OverallQuality float64     `json:"overall_quality"`
	QualityLevel   string      `json:"quality_level"`
	Tests          *TestResult `json:"tests,omitempty"`
	Histogram      []int       `json:"histogram,omitempty"`
}

// Analyzer is a fixed-size ring buffer of recent values.
type Analyzer struct {
	mu   sync.Mutex
	buf  []uint8
	next int
	full bool
}

// NewAnalyzer returns an analyser over the last size values.
func NewAnalyzer(size int) *Analyzer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Analyzer{buf: make([]uint8, size)}
}

// Add appends values, overwriting the oldest once the window is full.
func (a *Analyzer) Add(numbers []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range numbers {
		a.buf[a.next] = n
		a.next++
		if a.next == len(a.buf) {
			a.next = 0
			a.full = true
		}
	}
}

// Snapshot returns the window oldest first.
func (a *Analyzer) Snapshot() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.full {
		return append([]uint8(nil), a.buf[:a.next]...)
	}
	out := make([]uint8, 0, len(a.buf))
	out = append(out, a.buf[a.next:]...)
	return append(out, a.buf[:a.next]...)
}

// Len returns the number of buffered values.
func (a *Analyzer) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.full {
		return len(a.buf)
	}
	return a.next
}

// Summary scores the current window.
func (a *Analyzer) Summary() Summary {
	numbers := a.Snapshot()
	summary := Summary{
		SampleSize:     len(numbers),
		OverallQuality: 0.5,
		QualityLevel:   LevelInsufficient,
	}
	tests, err := Tests(numbers)
	if err != nil {
		return summary
	}
	summary.Tests = &tests
	summary.OverallQuality = (tests.Entropy + tests.Uniformity + tests.Autocorrelation + tests.Runs) / 4
	summary.QualityLevel = Level(summary.OverallQuality)
	summary.Histogram = Histogram(numbers, 16)
	return summary
}

// Level maps an overall quality score to its label.
func Level(score float64) string {
	switch {
	case score >= 0.9:
		return LevelExcellent
	case score >= 0.8:
		return LevelVeryGood
	case score >= 0.7:
		return LevelGood
	case score >= 0.6:
		return LevelFair
	default:
		return LevelPoor
	}
}

// Score returns the Shannon entropy of numbers normalised to [0,1] against
// the maximum achievable for the sample size. Samples smaller than
// MinScoreSamples score 0.5.
func Score(numbers []uint8) float64 {
	if len(numbers) < MinScoreSamples {
		return 0.5
	}
	var counts [256]int
	for _, n := range numbers {
		counts[n]++
	}

	total := float64(len(numbers))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}

	maxH := math.Log2(math.Min(total, 256))
	if maxH == 0 {
		return 0
	}
	return clamp(h / maxH)
}

// Tests runs the descriptive statistics and scoring over numbers.
func Tests(numbers []uint8) (TestResult, error) {
	if len(numbers) < MinTestSamples {
		return TestResult{}, ErrInsufficientData
	}

	n := float64(len(numbers))
	result := TestResult{Count: len(numbers), Min: 255, Max: 0}

	var sum float64
	var counts [256]int
	for _, v := range numbers {
		sum += float64(v)
		counts[v]++
		if int(v) < result.Min {
			result.Min = int(v)
		}
		if int(v) > result.Max {
			result.Max = int(v)
		}
	}
	result.Mean = sum / n

	var sq float64
	for _, v := range numbers {
		d := float64(v) - result.Mean
		sq += d * d
	}
	result.StdDev = math.Sqrt(sq / n)

	expected := n / 256
	for _, c := range counts {
		d := float64(c) - expected
		result.ChiSquare += d * d / expected
	}
	result.Uniformity = 1 / (1 + result.ChiSquare/1000)

	result.Entropy = Score(numbers)
	result.Autocorrelation = autocorrelationScore(numbers, result.Mean, sq)
	result.Runs = runsScore(numbers)
	return result, nil
}

// autocorrelationScore is 1-|r1| for the lag-1 autocorrelation r1.
func autocorrelationScore(numbers []uint8, mean, sumSquares float64) float64 {
	if sumSquares == 0 {
		return 0.5
	}
	var cov float64
	for i := 0; i+1 < len(numbers); i++ {
		cov += (float64(numbers[i]) - mean) * (float64(numbers[i+1]) - mean)
	}
	return clamp(1 - math.Abs(cov/sumSquares))
}

// runsScore compares the number of runs above/below the median with the
// count expected for a random sequence: 1 at the expectation, falling to 0
// at three standard deviations.
func runsScore(numbers []uint8) float64 {
	m := median(numbers)

	runs := 0
	var n1, n2 float64
	prev := -1
	for _, v := range numbers {
		bit := 0
		if float64(v) > m {
			bit = 1
			n1++
		} else {
			n2++
		}
		if bit != prev {
			runs++
			prev = bit
		}
	}
	if n1 == 0 || n2 == 0 {
		return 0
	}

	expected := 2*n1*n2/(n1+n2) + 1
	variance := 2 * n1 * n2 * (2*n1*n2 - n1 - n2) / ((n1 + n2) * (n1 + n2) * (n1 + n2 - 1))
	if variance <= 0 {
		return 0.5
	}
	z := (float64(runs) - expected) / math.Sqrt(variance)
	return clamp(1 - math.Abs(z)/3)
}

// median averages the two middle values of an even-length sample.
func median(numbers []uint8) float64 {
	sorted := append([]uint8(nil), numbers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return (float64(sorted[mid-1]) + float64(sorted[mid])) / 2
}

// Histogram counts numbers into bins equal-width buckets over [0,255].
func Histogram(numbers []uint8, bins int) []int {
	if bins <= 0 || bins > 256 {
		bins = 16
	}
	out := make([]int, bins)
	for _, v := range numbers {
		out[int(v)*bins/256]++
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
