package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/andrejsstepanovs/zuul-build/client"
	"github.com/andrejsstepanovs/zuul-build/db"
	"github.com/andrejsstepanovs/zuul-build/models"
	"github.com/andrejsstepanovs/zuul-build/sink"
	"github.com/andrejsstepanovs/zuul-build/stream"
)

// DefaultLimit is the number of builds a full archive run stores.
const DefaultLimit = 200

type Config struct {
	Alias      string
	URL        string
	ClientName string
	ModelName  string
	Limit      int
}

func ParseConfig(args []string) (*Config, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("at least 2 arguments required (alias, url)")
	}

	config := &Config{
		Alias:      args[0],
		URL:        args[1],
		ClientName: "none",
		ModelName:  "zuul-build-embedding",
		Limit:      DefaultLimit,
	}

	if _, err := client.ParseRootURL(config.URL); err != nil {
		return nil, err
	}

	if len(args) >= 3 && args[2] != "" {
		config.ClientName = args[2]
	}

	if len(args) >= 4 && args[3] != "" {
		config.ModelName = args[3]
	}

	return config, nil
}

func (c *Config) source() models.Source {
	return models.Source{Alias: c.Alias, URL: c.URL, Client: c.ClientName, Model: c.ModelName}
}

type options struct {
	client         []client.Option
	stream         []stream.Option
	embeddingURL   string
	embeddingToken string
	logger         *slog.Logger
}

// Option configures Run and RunSync.
type Option func(*options)

// WithClientOptions configures the zuul-web client.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *options) {
		o.client = append(o.client, opts...)
	}
}

// WithStreamOptions configures the build stream.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(o *options) {
		o.stream = append(o.stream, opts...)
	}
}

// WithEmbeddingEndpoint overrides the embedding provider url and token.
func WithEmbeddingEndpoint(url, token string) Option {
	return func(o *options) {
		o.embeddingURL = url
		o.embeddingToken = token
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o *options) embedder(source models.Source) (*client.Embedder, error) {
	if !source.HasEmbeddings() {
		return nil, nil
	}
	return client.NewEmbedder(source.Client, source.Model, o.embeddingURL, o.embeddingToken)
}

func (o *options) streamer(source models.Source) (*stream.Streamer, error) {
	c, err := client.NewFromString(source.URL, append([]client.Option{client.WithLogger(o.logger)}, o.client...)...)
	if err != nil {
		return nil, err
	}
	return stream.New(c, append([]stream.Option{stream.WithLogger(o.logger)}, o.stream...)...), nil
}

func newArchiveSink(dbConn *sql.DB, embedder *client.Embedder, logger *slog.Logger) *sink.Archive {
	if embedder == nil {
		return sink.NewArchive(dbConn, nil, logger)
	}
	return sink.NewArchive(dbConn, embedder, logger)
}

// Run replaces the archive of config.Alias with the newest config.Limit
// builds. It returns the number of builds stored.
func Run(ctx context.Context, config *Config, opts ...Option) (int, error) {
	o := newOptions(opts)
	source := config.source()

	embedder, err := o.embedder(source)
	if err != nil {
		return 0, err
	}
	dimensions := 0
	if embedder != nil {
		dimensions, err = embedder.Dimensions(ctx)
		if err != nil {
			return 0, err
		}
	}

	s, err := o.streamer(source)
	if err != nil {
		return 0, err
	}

	dbConn, err := db.SetupDatabase(config.Alias, dimensions)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()

	if err := db.UpsertSource(dbConn, source); err != nil {
		return 0, fmt.Errorf("error saving source metadata: %w", err)
	}
	if err := db.DeleteBuilds(dbConn); err != nil {
		return 0, fmt.Errorf("error deleting archived builds: %w", err)
	}

	limit := config.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	archive := newArchiveSink(dbConn, embedder, o.logger)
	seen := 0
	for build, err := range s.Builds(ctx) {
		if err != nil {
			return archive.Saved(), fmt.Errorf("error streaming builds: %w", err)
		}
		if err := archive.Emit(ctx, build); err != nil {
			return archive.Saved(), err
		}
		seen++
		if seen%20 == 0 {
			o.logger.Info("Archiving builds", "alias", config.Alias, "progress", fmt.Sprintf("%.2f%%", float64(seen)/float64(limit)*100))
		}
		if seen >= limit {
			break
		}
	}

	o.logger.Info("Archive built", "alias", config.Alias, "builds", archive.Saved())
	return archive.Saved(), nil
}

// RunSync stores the builds that completed since the newest archived build,
// using the stored source configuration. An empty archive is filled with
// up to DefaultLimit builds.
func RunSync(ctx context.Context, alias string, opts ...Option) (int, error) {
	o := newOptions(opts)

	dbConn, err := db.SetupDatabase(alias, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()

	source, err := db.GetSourceByAlias(dbConn, alias)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("archive with alias '%s' not found", alias)
		}
		return 0, fmt.Errorf("failed to get source config for alias '%s': %w", alias, err)
	}

	latest, err := db.LatestBuildUUID(dbConn)
	if err != nil {
		return 0, err
	}

	embedder, err := o.embedder(*source)
	if err != nil {
		return 0, err
	}
	s, err := o.streamer(*source)
	if err != nil {
		return 0, err
	}

	o.logger.Debug("Syncing archive", "alias", alias, "since", latest)
	archive := newArchiveSink(dbConn, embedder, o.logger)
	seen := 0
	for build, err := range s.Builds(ctx) {
		if err != nil {
			return archive.Saved(), fmt.Errorf("error streaming builds: %w", err)
		}
		if build.UUID == latest {
			break
		}
		if err := archive.Emit(ctx, build); err != nil {
			return archive.Saved(), err
		}
		seen++
		if latest == "" && seen >= DefaultLimit {
			break
		}
	}

	o.logger.Info("Archive synced", "alias", alias, "builds", archive.Saved())
	return archive.Saved(), nil
}
