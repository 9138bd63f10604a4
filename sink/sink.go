// Package sink delivers streamed builds to their destinations.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andrejsstepanovs/zuul-build/models"
)

// Sink receives builds one at a time, in stream order.
type Sink interface {
	Emit(ctx context.Context, build models.Build) error
	Close() error
}

// Line formats a build the way the tail command prints it.
func Line(b models.Build) string {
	return fmt.Sprintf("%s %s %s %s", b.LogURLOr("N/A"), b.UUID, b.Project, b.JobName)
}

// Printer writes one line per build, either text or JSON.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func NewPrinter(w io.Writer, asJSON bool) *Printer {
	return &Printer{w: w, json: asJSON}
}

func (p *Printer) Emit(_ context.Context, build models.Build) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		data, err := json.Marshal(build)
		if err != nil {
			return fmt.Errorf("failed to encode build %s: %w", build.UUID, err)
		}
		data = append(data, '\n')
		if _, err := p.w.Write(data); err != nil {
			return fmt.Errorf("failed to write build %s: %w", build.UUID, err)
		}
		return nil
	}

	if _, err := fmt.Fprintln(p.w, Line(build)); err != nil {
		return fmt.Errorf("failed to write build %s: %w", build.UUID, err)
	}
	return nil
}

func (p *Printer) Close() error { return nil }

// Multi emits every build to all of its sinks. A failing sink does not stop
// the others; their errors are joined.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, build models.Build) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, build); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
