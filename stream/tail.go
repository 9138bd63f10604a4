package stream

import (
	"context"
	"iter"
	"time"

	"github.com/andrejsstepanovs/zuul-build/models"
)

// Tail yields builds as they complete, like 'tail -f'.
//
// With an empty since, the newest build only marks the starting point and
// is not yielded. Each pass walks Builds from the top until the build whose
// uuid is since, yielding everything newer; the first build of the pass
// becomes the next since. Passes are separated by delay. The iterator ends
// after yielding the first error, including ctx.Err() on cancellation.
func (s *Streamer) Tail(ctx context.Context, delay time.Duration, since string) iter.Seq2[models.Build, error] {
	return func(yield func(models.Build, error) bool) {
		for {
			if since == "" {
				latest, err := s.Latest(ctx)
				if err != nil {
					yield(models.Build{}, err)
					return
				}
				s.logger.Debug("Current latest build", "uuid", latest.UUID, "job", latest.JobName)
				since = latest.UUID
			} else {
				next, ok := s.pass(ctx, since, yield)
				if !ok {
					return
				}
				since = next
			}

			s.logger.Debug("Now sleeping", "delay", delay, "since", since)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				yield(models.Build{}, ctx.Err())
				return
			case <-timer.C:
			}
		}
	}
}

// pass yields the builds newer than since and returns the uuid of the
// newest one. ok is false when iteration must stop.
func (s *Streamer) pass(ctx context.Context, since string, yield func(models.Build, error) bool) (string, bool) {
	next := since
	first := true
	for build, err := range s.Builds(ctx) {
		if err != nil {
			yield(models.Build{}, err)
			return "", false
		}
		if first {
			next = build.UUID
			first = false
		}
		if build.UUID == since {
			break
		}
		if !yield(build, nil) {
			return "", false
		}
	}
	return next, true
}
