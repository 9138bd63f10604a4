package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/andrejsstepanovs/zuul-build/db"
	"github.com/andrejsstepanovs/zuul-build/models"
)

// Embedder turns text into a vector. *client.Embedder implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) (*models.Embedding, error)
}

// Archive stores builds in a build archive database. When an embedder is
// set, newly stored builds are also vector indexed.
type Archive struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
	saved    int
}

// NewArchive archives into dbConn, which stays owned by the caller.
// embedder may be nil.
func NewArchive(dbConn *sql.DB, embedder Embedder, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: dbConn, embedder: embedder, logger: logger}
}

// Saved returns how many new builds were stored.
func (a *Archive) Saved() int { return a.saved }

func (a *Archive) Emit(ctx context.Context, build models.Build) error {
	_, err := a.store(ctx, build)
	return err
}

// store archives build and reports whether it was new.
func (a *Archive) store(ctx context.Context, build models.Build) (bool, error) {
	id, inserted, err := db.SaveBuild(a.db, build)
	if err != nil {
		return false, err
	}
	if !inserted {
		a.logger.Debug("Build already archived", "uuid", build.UUID)
		return false, nil
	}
	a.saved++

	if a.embedder == nil {
		return true, nil
	}
	embedding, err := a.embedder.Embed(ctx, models.EmbeddingText(build))
	if err != nil {
		// The build stays searchable by text.
		a.logger.Error("Error generating embeddings for build", "uuid", build.UUID, "error", err)
		return true, nil
	}
	if err := db.SaveBuildEmbedding(a.db, id, embedding); err != nil {
		return true, fmt.Errorf("error saving embedding for build %s: %w", build.UUID, err)
	}
	return true, nil
}

func (a *Archive) Close() error { return nil }

// Fresh archives every build and forwards to Next only the builds the
// archive did not hold yet. A tail resumed from an older marker replays
// archived builds; they are not emitted twice.
type Fresh struct {
	Archive *Archive
	Next    Sink
}

func (f *Fresh) Emit(ctx context.Context, build models.Build) error {
	inserted, err := f.Archive.store(ctx, build)
	if err != nil || !inserted {
		return err
	}
	return f.Next.Emit(ctx, build)
}

func (f *Fresh) Close() error {
	return errors.Join(f.Next.Close(), f.Archive.Close())
}
