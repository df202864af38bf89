package extract

import (
	"sync"
	"sync/atomic"
)

// Registry decides which fingerprint wins during one extraction call.
type Registry interface {
	// TryClaim returns true for exactly one caller per distinct fingerprint.
	TryClaim(fp Fingerprint) bool
}

// ClaimSet is a Registry backed by sync.Map. The zero value is ready to use.
type ClaimSet struct {
	seen sync.Map
	size atomic.Int64
}

// NewClaimSet returns an empty dedup registry.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{}
}

func (s *ClaimSet) TryClaim(fp Fingerprint) bool {
	if _, loaded := s.seen.LoadOrStore(fp, struct{}{}); loaded {
		return false
	}
	s.size.Add(1)
	return true
}

// Len reports how many distinct fingerprints have been claimed.
func (s *ClaimSet) Len() int {
	return int(s.size.Load())
}

// passthrough accepts every image and remembers nothing.
type passthrough struct{}

func (passthrough) TryClaim(Fingerprint) bool { return true }

func registryFor(dedup bool) Registry {
	if dedup {
		return NewClaimSet()
	}
	return passthrough{}
}
