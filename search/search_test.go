package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/andrejsstepanovs/zuul-build/db"
	"github.com/andrejsstepanovs/zuul-build/models"
	"github.com/andrejsstepanovs/zuul-build/zuultest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]string{"sf", "tox", " failure "})
	require.NoError(t, err)
	assert.Equal(t, &Config{Alias: "sf", Query: "tox  failure", Limit: defaultLimit}, config)

	_, err = ParseConfig([]string{"sf"})
	assert.Error(t, err)

	_, err = ParseConfig([]string{"sf", " ", ""})
	assert.ErrorContains(t, err, "search query cannot be empty")
}

func seedArchive(t *testing.T, alias string, source models.Source, dimensions int) {
	t.Helper()
	dbConn, err := db.SetupDatabase(alias, dimensions)
	require.NoError(t, err)
	defer dbConn.Close()

	require.NoError(t, db.UpsertSource(dbConn, source))

	tox := zuultest.MakeBuild("tox", time.Now())
	tox.JobName = "tox-py311"
	lint := zuultest.MakeBuild("lint", time.Now().Add(-time.Minute))
	lint.JobName = "hlint"
	for i, b := range []models.Build{tox, lint} {
		id, _, err := db.SaveBuild(dbConn, b)
		require.NoError(t, err)
		if dimensions > 0 {
			embedding := models.Embedding{0, 0, 0}
			embedding[i] = 1
			require.NoError(t, db.SaveBuildEmbedding(dbConn, id, &embedding))
		}
	}
}

func TestRun_Text(t *testing.T) {
	t.Chdir(t.TempDir())
	seedArchive(t, "text", models.Source{Alias: "text", URL: "http://localhost/", Client: "none"}, 0)

	results, err := Run(context.Background(), &Config{Alias: "text", Query: "hlint"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "lint", results[0].Build.UUID)
}

func TestRun_Vector(t *testing.T) {
	t.Chdir(t.TempDir())
	seedArchive(t, "vec", models.Source{Alias: "vec", URL: "http://localhost/", Client: "ollama", Model: "nomic-embed-text"}, 3)

	embeddings := zuultest.NewEmbeddingServer(func(text string) models.Embedding {
		if strings.Contains(text, "python") {
			return models.Embedding{1, 0, 0}
		}
		return models.Embedding{0, 1, 0}
	})
	defer embeddings.Close()

	results, err := Run(context.Background(), &Config{Alias: "vec", Query: "python unit tests", EmbeddingURL: embeddings.URL})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tox", results[0].Build.UUID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestRun_UnknownAlias(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Run(context.Background(), &Config{Alias: "missing", Query: "tox"})
	assert.ErrorContains(t, err, "archive with alias 'missing' not found")
}
