package extract

import (
	"context"
	"sync"
)

// claimSequencer hands out claim turns in page order. Page N may claim
// fingerprints only after every page before it released its turn, so the
// first occurrence in the document always wins regardless of scheduling.
type claimSequencer struct {
	turns    []chan struct{}
	once     []sync.Once
	done     chan struct{}
	stopOnce sync.Once
}

func newClaimSequencer(pages int) *claimSequencer {
	s := &claimSequencer{
		turns: make([]chan struct{}, pages),
		once:  make([]sync.Once, pages),
		done:  make(chan struct{}),
	}
	for i := range s.turns {
		s.turns[i] = make(chan struct{})
	}
	return s
}

// wait blocks until the page before page released its turn.
func (s *claimSequencer) wait(ctx context.Context, page int) error {
	if page == 0 {
		return nil
	}
	select {
	case <-s.turns[page-1]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release is idempotent. Dropped and failed pages release too; a page that
// releases before its predecessor did only opens its turn once that happens,
// or never if the sequencer is stopped first.
func (s *claimSequencer) release(page int) {
	s.once[page].Do(func() {
		if page == 0 {
			close(s.turns[0])
			return
		}
		select {
		case <-s.turns[page-1]:
			close(s.turns[page])
		default:
			go func() {
				select {
				case <-s.turns[page-1]:
					close(s.turns[page])
				case <-s.done:
				}
			}()
		}
	})
}

// stop ends every pending release. Turns not open yet stay closed.
func (s *claimSequencer) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
