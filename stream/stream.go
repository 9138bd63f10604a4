// Package stream turns paginated zuul-web build queries into iterators of
// unique builds.
//
//	s := stream.New(c)
//	for build, err := range s.Tail(ctx, 10*time.Second, "") {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(build.UUID)
//	}
package stream

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/andrejsstepanovs/zuul-build/client"
	"github.com/andrejsstepanovs/zuul-build/metrics"
	"github.com/andrejsstepanovs/zuul-build/models"
	"github.com/andrejsstepanovs/zuul-build/retry"
)

// ErrNoLatestBuild is yielded by Tail when the api has no decodable build to
// start from.
var ErrNoLatestBuild = errors.New("could not get the latest build")

// Pager fetches one page of builds. *client.Client implements it.
type Pager interface {
	Builds(ctx context.Context, q client.BuildsQuery) ([]client.BuildResult, error)
}

// Streamer produces build iterators over a Pager.
type Streamer struct {
	pager    Pager
	policy   retry.Policy
	pageSize uint32
	filter   client.Filter
	recorder metrics.Recorder
	logger   *slog.Logger
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithPolicy sets the retry policy applied to every page request.
func WithPolicy(p retry.Policy) Option {
	return func(s *Streamer) {
		s.policy = p
	}
}

// WithPageSize sets the number of builds requested per page.
func WithPageSize(n uint32) Option {
	return func(s *Streamer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithFilter restricts the streamed builds.
func WithFilter(f client.Filter) Option {
	return func(s *Streamer) {
		s.filter = f
	}
}

// WithRecorder reports stream metrics to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Streamer) {
		s.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Streamer) {
		s.logger = l
	}
}

// New creates a Streamer with the default retry policy and page size.
func New(p Pager, opts ...Option) *Streamer {
	s := &Streamer{
		pager:    p,
		policy:   retry.DefaultPolicy(),
		pageSize: client.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = metrics.OrNoop(s.recorder)
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Streamer) fetch(ctx context.Context, skip, limit uint32) ([]client.BuildResult, error) {
	q := client.BuildsQuery{Skip: skip, Limit: limit, Filter: s.filter}
	return retry.Do(ctx, s.policy, func(ctx context.Context) ([]client.BuildResult, error) {
		return s.pager.Builds(ctx, q)
	},
		retry.WithRetryIf(client.Retryable),
		retry.WithNotify(func(n int, err error, wait time.Duration) {
			s.recorder.IncRetry("builds")
			s.logger.Debug("Retrying builds query", "skip", skip, "retry", n, "wait", wait, "error", err)
		}),
	)
}

// Builds yields unique builds, newest first, walking pages until an empty
// page is returned. A page that slid between requests repeats builds that
// were already yielded; those are skipped. Builds that fail to decode are
// logged and skipped. A request that still fails after retries is yielded as
// an error and ends the iteration.
func (s *Streamer) Builds(ctx context.Context) iter.Seq2[models.Build, error] {
	return func(yield func(models.Build, error) bool) {
		var offset uint32
		known := make(map[string]struct{})

		for {
			page, err := s.fetch(ctx, offset, s.pageSize)
			if err != nil {
				yield(models.Build{}, err)
				return
			}
			if len(page) == 0 {
				s.logger.Debug("Reached the end of the builds history", "offset", offset)
				return
			}
			offset += uint32(len(page))

			for _, r := range page {
				if r.Err != nil {
					s.recorder.IncDecodeError()
					s.logger.Error("Failed to decode build", "offset", offset, "error", r.Err)
					continue
				}
				if _, ok := known[r.Build.UUID]; ok {
					s.recorder.IncDuplicate()
					continue
				}
				known[r.Build.UUID] = struct{}{}
				s.recorder.IncBuild(r.Build.Result)
				if !yield(r.Build, nil) {
					return
				}
			}
		}
	}
}

// Latest returns the newest decodable build.
func (s *Streamer) Latest(ctx context.Context) (models.Build, error) {
	page, err := s.fetch(ctx, 0, 1)
	if err != nil {
		return models.Build{}, err
	}
	for _, r := range page {
		if r.Err == nil {
			return r.Build, nil
		}
		s.recorder.IncDecodeError()
		s.logger.Error("Failed to decode latest build", "error", r.Err)
	}
	return models.Build{}, ErrNoLatestBuild
}
