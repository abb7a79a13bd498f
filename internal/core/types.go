package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Count bounds accepted by every fetch path.
const (
	MinCount = 1
	MaxCount = 1000
)

// CacheSourceName is reported as the source of numbers served from cache.
const CacheSourceName = "Cache"

// Numbers is an ordered sequence of integers in [0,255].
//
// It marshals as a JSON integer array rather than the base64 string
// encoding/json uses for byte slices.
type Numbers []uint8

// MarshalJSON renders the numbers as a JSON array of integers.
func (n Numbers) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(n))
	for i, v := range n {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON accepts a JSON array of integers in [0,255].
func (n *Numbers) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(Numbers, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("value %d at index %d is outside [0,255]", v, i)
		}
		out[i] = uint8(v)
	}
	*n = out
	return nil
}

// MarshalYAML renders the numbers as a YAML integer sequence.
func (n Numbers) MarshalYAML() (interface{}, error) {
	return n.Ints(), nil
}

// Ints returns the numbers as a plain int slice.
func (n Numbers) Ints() []int {
	ints := make([]int, len(n))
	for i, v := range n {
		ints[i] = int(v)
	}
	return ints
}

// FetchResult is the immutable outcome of one rotation fetch.
type FetchResult struct {
	ID        string    `json:"id" yaml:"id"`
	Numbers   Numbers   `json:"numbers" yaml:"numbers"`
	Source    string    `json:"source" yaml:"source"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Count     int       `json:"count" yaml:"count"`
}

// ValidCount reports whether count is within the accepted bounds.
func ValidCount(count int) bool {
	return count >= MinCount && count <= MaxCount
}
