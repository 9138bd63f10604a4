package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/andrejsstepanovs/zuul-build/models"
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func InitDB(name string, dimensions int) (*sql.DB, error) {
	sqlite_vec.Auto()

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s.db", name))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	_, err = db.Exec(`
				CREATE TABLE IF NOT EXISTS builds (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					uuid TEXT NOT NULL UNIQUE,
					job_name TEXT NOT NULL,
					project TEXT NOT NULL,
					branch TEXT NOT NULL,
					pipeline TEXT NOT NULL,
					result TEXT NOT NULL,
					end_time TEXT NOT NULL,
					payload TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating builds table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sources (
			alias TEXT PRIMARY KEY NOT NULL,
			url TEXT NOT NULL,
			client TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating sources table: %w", err)
	}

	if dimensions > 0 {
		if err := CreateVectorTable(db, dimensions); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

// CreateVectorTable adds the build_vectors index when it does not exist yet.
func CreateVectorTable(db *sql.DB, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}
	_, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS build_vectors USING vec0(
			embedding float[` + fmt.Sprintf("%d", dimensions) + `]
		);
	`)
	if err != nil {
		return fmt.Errorf("error creating build_vectors table: %w", err)
	}
	return nil
}

func SetupDatabase(alias string, dimensions int) (*sql.DB, error) {
	dbConn, err := InitDB(alias, dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, nil
}

// SaveBuild stores a build once; saving a known uuid again is a no-op.
// It returns the row id and whether the build was new.
func SaveBuild(db *sql.DB, build models.Build) (int64, bool, error) {
	payload, err := json.Marshal(build)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encode build %s: %w", build.UUID, err)
	}

	result, err := db.Exec(`
		INSERT INTO builds (uuid, job_name, project, branch, pipeline, result, end_time, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO NOTHING;
	`,
		build.UUID, build.JobName, build.Project, build.Branch, build.Pipeline, build.Result,
		build.EndTime.UTC().Format(models.TimestampLayout), string(payload),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert build %s: %w", build.UUID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		var id int64
		if err := db.QueryRow("SELECT id FROM builds WHERE uuid = ?", build.UUID).Scan(&id); err != nil {
			return 0, false, fmt.Errorf("failed to get id of build %s: %w", build.UUID, err)
		}
		return id, false, nil
	}

	lastID, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get last insert id err: %w", err)
	}
	return lastID, true, nil
}

func SaveBuildEmbedding(db *sql.DB, buildID int64, embedding *models.Embedding) error {
	embeddingBytes, err := sqlite_vec.SerializeFloat32(embedding.Float32())
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}

	_, err = db.Exec("INSERT INTO build_vectors (rowid, embedding) VALUES (?, vec_f32(?))",
		buildID,
		embeddingBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert into build_vectors: %w", err)
	}
	return nil
}

func hasVectorTable(db *sql.DB) (bool, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'build_vectors'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return n > 0, nil
}

// DeleteBuilds removes every archived build and its vector. Sources are kept.
func DeleteBuilds(db *sql.DB) error {
	vectors, err := hasVectorTable(db)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if vectors {
		if _, err = tx.Exec("DELETE FROM build_vectors"); err != nil {
			return fmt.Errorf("failed to delete from build_vectors: %w", err)
		}
	}
	if _, err = tx.Exec("DELETE FROM builds"); err != nil {
		return fmt.Errorf("failed to delete from builds: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func CountBuilds(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM builds").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count builds: %w", err)
	}
	return n, nil
}

// LatestBuildUUID returns the uuid of the most recently ended archived build,
// or "" when the archive is empty.
func LatestBuildUUID(db *sql.DB) (string, error) {
	var uuid string
	err := db.QueryRow("SELECT uuid FROM builds ORDER BY end_time DESC, id ASC LIMIT 1").Scan(&uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest build: %w", err)
	}
	return uuid, nil
}

func GetBuild(db *sql.DB, uuid string) (*models.ArchivedBuild, error) {
	row := db.QueryRow("SELECT id, payload FROM builds WHERE uuid = ?", uuid)
	build, err := scanBuild(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get build %s: %w", uuid, err)
	}
	return build, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner, extra ...any) (*models.ArchivedBuild, error) {
	var ab models.ArchivedBuild
	var payload string
	if err := row.Scan(append([]any{&ab.ID, &payload}, extra...)...); err != nil {
		return nil, err
	}
	build, err := models.DecodeBuild([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("corrupt payload for build row %d: %w", ab.ID, err)
	}
	ab.Build = build
	return &ab, nil
}

// SearchText returns builds where every query term appears in the job,
// project, branch, pipeline or result, most recent first.
func SearchText(db *sql.DB, query string, limit int) ([]models.ArchivedBuild, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, fmt.Errorf("search query cannot be empty")
	}

	var where []string
	var args []any
	for _, term := range terms {
		where = append(where, "(job_name || ' ' || project || ' ' || branch || ' ' || pipeline || ' ' || result) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	args = append(args, limit)

	rows, err := db.Query(
		"SELECT id, payload FROM builds WHERE "+strings.Join(where, " AND ")+" ORDER BY end_time DESC, id ASC LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer rows.Close()

	var results []models.ArchivedBuild
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build row: %w", err)
		}
		results = append(results, *build)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during build row iteration: %w", err)
	}
	return results, nil
}

func UpsertSource(db *sql.DB, source models.Source) error {
	query := `
		INSERT INTO sources (alias, url, client, model) VALUES (?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET url = excluded.url, client = excluded.client, model = excluded.model;
	`
	_, err := db.Exec(query, source.Alias, source.URL, source.Client, source.Model)
	if err != nil {
		return fmt.Errorf("failed to upsert source with alias '%s': %w", source.Alias, err)
	}
	return nil
}

func GetSourceByAlias(db *sql.DB, alias string) (*models.Source, error) {
	row := db.QueryRow("SELECT alias, url, client, model FROM sources WHERE alias = ?", alias)

	var source models.Source
	err := row.Scan(&source.Alias, &source.URL, &source.Client, &source.Model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get source with alias '%s': %w", alias, err)
	}
	return &source, nil
}
