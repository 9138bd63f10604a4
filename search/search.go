package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/andrejsstepanovs/zuul-build/client"
	"github.com/andrejsstepanovs/zuul-build/db"
	"github.com/andrejsstepanovs/zuul-build/models"
)

const (
	minSimilarity = 0.03
	defaultLimit  = 10
)

// Config holds the configuration for a search operation.
type Config struct {
	Alias string
	Query string
	Limit int

	// EmbeddingURL and EmbeddingToken override the provider defaults.
	EmbeddingURL   string
	EmbeddingToken string
}

// ParseConfig parses command line arguments into a Config struct.
func ParseConfig(args []string) (*Config, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("at least 2 arguments required (alias, query)")
	}

	config := &Config{
		Alias: args[0],
		Query: strings.Join(args[1:], " "),
		Limit: defaultLimit,
	}

	config.Query = strings.TrimSpace(config.Query)
	if config.Query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}

	return config, nil
}

// Run searches the archive of config.Alias. Archives indexed with an
// embedding provider are searched by similarity, others by text.
func Run(ctx context.Context, config *Config) ([]models.ArchivedBuild, error) {
	dbConn, err := db.SetupDatabase(config.Alias, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbConn.Close()

	source, err := db.GetSourceByAlias(dbConn, config.Alias)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("archive with alias '%s' not found", config.Alias)
		}
		return nil, fmt.Errorf("error retrieving archive source: %w", err)
	}

	limit := config.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	if !source.HasEmbeddings() {
		results, err := db.SearchText(dbConn, config.Query, limit)
		if err != nil {
			return nil, fmt.Errorf("error searching builds: %w", err)
		}
		return results, nil
	}

	embedder, err := client.NewEmbedder(source.Client, source.Model, config.EmbeddingURL, config.EmbeddingToken)
	if err != nil {
		return nil, err
	}
	embedding, err := embedder.Embed(ctx, config.Query)
	if err != nil {
		return nil, fmt.Errorf("error generating embeddings for query: %w", err)
	}

	results, err := db.SearchWithSimilarity(dbConn, embedding.Float32(), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("error searching for similar builds: %w", err)
	}
	return results, nil
}
