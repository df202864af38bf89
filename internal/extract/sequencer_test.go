package extract

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClaimSequencerOrdersTurns(t *testing.T) {
	const pages = 6
	s := newClaimSequencer(pages)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	// start in reverse so scheduling alone would give the wrong order
	for page := pages - 1; page >= 0; page-- {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			assert.NoError(t, s.wait(context.Background(), page))
			mu.Lock()
			order = append(order, page)
			mu.Unlock()
			s.release(page)
		}(page)
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestClaimSequencerEarlyReleaseWaitsForPredecessor(t *testing.T) {
	s := newClaimSequencer(3)
	s.release(1)
	s.release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.wait(ctx, 2), context.DeadlineExceeded)

	s.release(0)
	assert.NoError(t, s.wait(context.Background(), 2))
}

func TestClaimSequencerStopEndsPendingReleases(t *testing.T) {
	base := runtime.NumGoroutine()
	s := newClaimSequencer(64)
	// page 0 is abandoned and never releases
	for page := 1; page < 64; page++ {
		s.release(page)
	}
	s.stop()
	s.stop()
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= base }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.wait(ctx, 63), context.DeadlineExceeded)
}
