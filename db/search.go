package db

import (
	"database/sql"
	"fmt"

	"github.com/andrejsstepanovs/zuul-build/models"
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// SearchOptions provides flexible search configuration
type SearchOptions struct {
	MaxDistance float64 // Maximum distance threshold (e.g., 0.7)
	MinResults  int     // Minimum number of results to return
	MaxResults  int     // Maximum number of results to return
	UseAdaptive bool    // Use adaptive threshold based on result distribution
}

// DefaultSearchOptions returns sensible defaults
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		MaxDistance: 0.8,
		MinResults:  2,
		MaxResults:  20,
		UseAdaptive: true,
	}
}

// SearchWithThreshold finds builds near the query embedding, filtered by distance.
func SearchWithThreshold(db *sql.DB, embeddings []float32, opts SearchOptions) ([]models.ArchivedBuild, error) {
	embeddingBytes, err := sqlite_vec.SerializeFloat32(embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize embedding: %w", err)
	}

	// Get a larger initial set to analyze distances
	initialLimit := opts.MaxResults * 2
	if initialLimit < 100 {
		initialLimit = 100
	}

	query := `
        SELECT b.id, b.payload, distance
        FROM builds b
        JOIN build_vectors bv ON bv.rowid = b.id
        WHERE bv.embedding MATCH vec_f32(?)
        AND k = ?
        ORDER BY distance ASC
    `

	rows, err := db.Query(query, embeddingBytes, initialLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	var allResults []models.ArchivedBuild
	for rows.Next() {
		var distance float64
		result, err := scanBuild(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding search row: %w", err)
		}
		result.Score = distance
		allResults = append(allResults, *result)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}

	return filterByDistance(allResults, opts), nil
}

// filterByDistance applies distance-based filtering logic
func filterByDistance(results []models.ArchivedBuild, opts SearchOptions) []models.ArchivedBuild {
	if len(results) == 0 {
		return results
	}

	var filtered []models.ArchivedBuild

	threshold := opts.MaxDistance
	if opts.UseAdaptive {
		// Adaptive threshold: find natural clustering break
		threshold = calculateAdaptiveThreshold(results, opts.MaxDistance)
	}
	for _, result := range results {
		if result.Score <= threshold && len(filtered) < opts.MaxResults {
			filtered = append(filtered, result)
		}
	}

	// Ensure minimum results if available
	if len(filtered) < opts.MinResults {
		minCount := min(opts.MinResults, len(results), opts.MaxResults)
		return results[:minCount]
	}

	return filtered
}

// calculateAdaptiveThreshold finds a natural break in distance distribution
func calculateAdaptiveThreshold(results []models.ArchivedBuild, maxThreshold float64) float64 {
	if len(results) <= 1 {
		return maxThreshold
	}

	// Look for the largest gap in distances (elbow method)
	largestGap := 0.0
	gapIndex := 0

	for i := 1; i < len(results) && i < 20; i++ {
		gap := results[i].Score - results[i-1].Score
		if gap > largestGap {
			largestGap = gap
			gapIndex = i
		}
	}

	if largestGap > 0.05 && gapIndex > 0 {
		adaptiveThreshold := results[gapIndex-1].Score + (largestGap / 2)
		if adaptiveThreshold < maxThreshold {
			return adaptiveThreshold
		}
	}

	return maxThreshold
}

// SearchWithSimilarity searches by similarity score (1 - distance).
func SearchWithSimilarity(db *sql.DB, embeddings []float32, minSimilarity float64, maxResults int) ([]models.ArchivedBuild, error) {
	opts := SearchOptions{
		MaxDistance: 1.0 - minSimilarity,
		MinResults:  1,
		MaxResults:  maxResults,
		UseAdaptive: true,
	}

	results, err := SearchWithThreshold(db, embeddings, opts)
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Score = 1.0 - results[i].Score
	}

	return results, nil
}
