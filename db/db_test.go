package db

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrejsstepanovs/zuul-build/models"
	"github.com/andrejsstepanovs/zuul-build/zuultest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, dimensions int) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test"), dimensions)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveBuild(t *testing.T) {
	db := openTestDB(t, 0)

	build := zuultest.MakeBuild("build1", time.Now())
	id, inserted, err := SaveBuild(db, build)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), id)

	// Saving the same uuid again is a no-op that returns the existing row.
	id2, inserted, err := SaveBuild(db, build)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, id2)

	count, err := CountBuilds(db)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := GetBuild(db, "build1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, build, got.Build)

	_, err = GetBuild(db, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLatestBuildUUID(t *testing.T) {
	db := openTestDB(t, 0)

	uuid, err := LatestBuildUUID(db)
	require.NoError(t, err)
	assert.Equal(t, "", uuid)

	now := time.Now()
	// Archived newest first, as streams yield them.
	for _, b := range []models.Build{
		zuultest.MakeBuild("newest", now),
		zuultest.MakeBuild("same-second", now),
		zuultest.MakeBuild("older", now.Add(-time.Hour)),
	} {
		_, _, err := SaveBuild(db, b)
		require.NoError(t, err)
	}

	uuid, err = LatestBuildUUID(db)
	require.NoError(t, err)
	assert.Equal(t, "newest", uuid)
}

func TestSearchText(t *testing.T) {
	db := openTestDB(t, 0)

	now := time.Now()
	tox := zuultest.MakeBuild("tox", now)
	tox.JobName = "tox-py311"
	tox.Result = "FAILURE"
	lint := zuultest.MakeBuild("lint", now.Add(-time.Minute))
	lint.JobName = "hlint"
	lint.Project = "software-factory/matrix-client-haskell"
	old := zuultest.MakeBuild("old", now.Add(-time.Hour))
	old.JobName = "tox-pep8"
	for _, b := range []models.Build{tox, lint, old} {
		_, _, err := SaveBuild(db, b)
		require.NoError(t, err)
	}

	testCases := []struct {
		name     string
		query    string
		limit    int
		expected []string
	}{
		{name: "single term", query: "tox", limit: 10, expected: []string{"tox", "old"}},
		{name: "all terms must match", query: "tox FAILURE", limit: 10, expected: []string{"tox"}},
		{name: "project match", query: "matrix-client", limit: 10, expected: []string{"lint"}},
		{name: "limit", query: "main", limit: 2, expected: []string{"tox", "lint"}},
		{name: "no match", query: "nothing", limit: 10, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			results, err := SearchText(db, tc.query, tc.limit)
			require.NoError(t, err)
			var uuids []string
			for _, r := range results {
				uuids = append(uuids, r.Build.UUID)
			}
			assert.Equal(t, tc.expected, uuids)
		})
	}

	_, err := SearchText(db, "   ", 10)
	assert.Error(t, err)
}

func TestUpsertSource(t *testing.T) {
	db := openTestDB(t, 0)

	testCases := []struct {
		name   string
		source models.Source
	}{
		{name: "insert new source", source: models.Source{Alias: "sf", URL: "https://softwarefactory-project.io/zuul/api/tenant/local/", Client: "ollama", Model: "nomic-embed-text"}},
		{name: "update existing source", source: models.Source{Alias: "sf", URL: "https://example.com/api/", Client: "none"}},
		{name: "second source", source: models.Source{Alias: "opendev", URL: "https://zuul.opendev.org/api/tenant/openstack/"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, UpsertSource(db, tc.source))

			got, err := GetSourceByAlias(db, tc.source.Alias)
			require.NoError(t, err)
			assert.Equal(t, tc.source, *got)
		})
	}

	_, err := GetSourceByAlias(db, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDeleteBuilds(t *testing.T) {
	db := openTestDB(t, 4)

	require.NoError(t, UpsertSource(db, models.Source{Alias: "sf", URL: "https://example.com/"}))
	id, _, err := SaveBuild(db, zuultest.MakeBuild("build1", time.Now()))
	require.NoError(t, err)
	require.NoError(t, SaveBuildEmbedding(db, id, &models.Embedding{1, 0, 0, 0}))

	var vectorCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM build_vectors").Scan(&vectorCount))
	assert.Equal(t, 1, vectorCount)

	require.NoError(t, DeleteBuilds(db))

	count, err := CountBuilds(db)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM build_vectors").Scan(&vectorCount))
	assert.Equal(t, 0, vectorCount)

	_, err = GetSourceByAlias(db, "sf")
	assert.NoError(t, err, "sources are preserved")
}

func TestDeleteBuilds_WithoutVectors(t *testing.T) {
	db := openTestDB(t, 0)
	_, _, err := SaveBuild(db, zuultest.MakeBuild("build1", time.Now()))
	require.NoError(t, err)

	require.NoError(t, DeleteBuilds(db))
	count, err := CountBuilds(db)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSearchWithSimilarity(t *testing.T) {
	db := openTestDB(t, 4)

	now := time.Now()
	vectors := map[string]models.Embedding{
		"near":  {1, 0, 0, 0},
		"far":   {0, 1, 0, 0},
		"other": {0, 0, 1, 0},
	}
	for _, uuid := range []string{"near", "far", "other"} {
		id, _, err := SaveBuild(db, zuultest.MakeBuild(uuid, now))
		require.NoError(t, err)
		embedding := vectors[uuid]
		require.NoError(t, SaveBuildEmbedding(db, id, &embedding))
	}

	results, err := SearchWithSimilarity(db, []float32{1, 0, 0, 0}, 0.03, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].Build.UUID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestFilterByDistance(t *testing.T) {
	results := []models.ArchivedBuild{{Score: 0.1}, {Score: 0.12}, {Score: 0.5}, {Score: 0.6}}

	filtered := filterByDistance(results, SearchOptions{MaxDistance: 0.8, MinResults: 1, MaxResults: 10, UseAdaptive: true})
	assert.Len(t, filtered, 2)

	filtered = filterByDistance(results, SearchOptions{MaxDistance: 0.8, MinResults: 1, MaxResults: 10})
	assert.Len(t, filtered, 4)

	filtered = filterByDistance(results, SearchOptions{MaxDistance: 0.8, MinResults: 1, MaxResults: 3})
	assert.Len(t, filtered, 3)

	filtered = filterByDistance(results, SearchOptions{MaxDistance: 0.01, MinResults: 2, MaxResults: 10})
	assert.Len(t, filtered, 2, "minimum results are returned even above the threshold")

	assert.Empty(t, filterByDistance(nil, DefaultSearchOptions()))
}

func TestCreateVectorTable(t *testing.T) {
	db := openTestDB(t, 0)

	vectors, err := hasVectorTable(db)
	require.NoError(t, err)
	assert.False(t, vectors)

	require.NoError(t, CreateVectorTable(db, 4))
	require.NoError(t, CreateVectorTable(db, 4))
	vectors, err = hasVectorTable(db)
	require.NoError(t, err)
	assert.True(t, vectors)

	assert.Error(t, CreateVectorTable(db, 0))
}
