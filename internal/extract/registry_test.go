package extract

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaimSetSingleWinnerUnderContention(t *testing.T) {
	const callers = 64
	set := NewClaimSet()
	fp := FingerprintOf([]byte("same image"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if set.TryClaim(fp) {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, set.Len())
}

func TestClaimSetDistinctFingerprints(t *testing.T) {
	set := NewClaimSet()
	assert.True(t, set.TryClaim(FingerprintOf([]byte("a"))))
	assert.True(t, set.TryClaim(FingerprintOf([]byte("b"))))
	assert.False(t, set.TryClaim(FingerprintOf([]byte("a"))))
	assert.Equal(t, 2, set.Len())
}

func TestPassthroughAcceptsEverything(t *testing.T) {
	r := registryFor(false)
	fp := FingerprintOf([]byte("a"))
	assert.True(t, r.TryClaim(fp))
	assert.True(t, r.TryClaim(fp))
}

func TestFingerprintIsContentHash(t *testing.T) {
	a := FingerprintOf([]byte{1, 2, 3})
	assert.Equal(t, a, FingerprintOf([]byte{1, 2, 3}))
	assert.NotEqual(t, a, FingerprintOf([]byte{1, 2, 4}))
	assert.Len(t, a.String(), 64)
}
