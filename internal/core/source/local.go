package source

import (
	"context"
	"crypto/rand"
)

// LocalName is the name reported for numbers drawn from crypto/rand.
const LocalName = "Local Fallback QRNG"

// LocalSource draws from the operating system CSPRNG. It has no network
// dependency and no rate limit, and never fails for a valid count.
type LocalSource struct{}

// NewLocalSource returns the local fallback source.
func NewLocalSource() *LocalSource {
	return &LocalSource{}
}

func (s *LocalSource) Name() string     { return LocalName }
func (s *LocalSource) Endpoint() string { return "local://fallback" }
func (s *LocalSource) Infallible() bool { return true }

// Fetch returns count bytes, each uniform over [0,255].
func (s *LocalSource) Fetch(_ context.Context, count int) ([]uint8, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	buf := make([]uint8, count)
	// crypto/rand.Read never returns an error since Go 1.24.
	_, _ = rand.Read(buf)
	return buf, nil
}
