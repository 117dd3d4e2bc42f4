package maildedup

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// flusher coalesces commit-triggered snapshot writes in the background.
// A committed entry stays unflushed for at most maxDelay; failed saves
// are retried, paced by a rate limiter so a broken store is not hammered.
type flusher struct {
	save     func(ctx context.Context) error
	maxDelay time.Duration
	limiter  *rate.Limiter
	logger   *Logger

	dirty chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

func newFlusher(save func(ctx context.Context) error, maxDelay time.Duration, logger *Logger) *flusher {
	f := &flusher{
		save:     save,
		maxDelay: maxDelay,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		logger:   logger,
		dirty:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go f.run()

	return f
}

// markDirty schedules a snapshot. Multiple calls before the flush fires
// coalesce into one write.
func (f *flusher) markDirty() {
	select {
	case f.dirty <- struct{}{}:
	default:
	}
}

func (f *flusher) run() {
	defer close(f.done)

	timer := time.NewTimer(f.maxDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := false

	for {
		select {
		case <-f.dirty:
			if !pending {
				pending = true
				timer.Reset(f.maxDelay)
			}

		case <-timer.C:
			if !pending {
				continue
			}
			if err := f.flush(); err != nil {
				f.logger.Warn("background flush failed, will retry",
					"error", err,
				)
				timer.Reset(f.maxDelay)
				continue
			}
			pending = false

		case <-f.stop:
			// Drain a dirty signal that raced with stop.
			select {
			case <-f.dirty:
				pending = true
			default:
			}
			if pending {
				if err := f.flush(); err != nil {
					f.logger.Error("final flush failed",
						"error", err,
					)
				}
			}
			return
		}
	}
}

func (f *flusher) flush() error {
	ctx := context.Background()
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	return f.save(ctx)
}

// close stops the background goroutine, flushing pending state first.
func (f *flusher) close() {
	close(f.stop)
	<-f.done
}
