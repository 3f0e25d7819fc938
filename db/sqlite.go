package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/mdobak/go-xerrors"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"variant-mil/models"
	"variant-mil/utils"
)

// SQLiteClient records runs and the verdicts they produced.
type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" && dbPath != ":memory:" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, xerrors.Newf("error creating database directory: %w", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, xerrors.Newf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, xerrors.Newf("error creating tables: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createRunsTable := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        gene TEXT NOT NULL,
        method TEXT NOT NULL,
        seed INTEGER NOT NULL,
        components INTEGER NOT NULL,
        cached INTEGER NOT NULL DEFAULT 0,
        started_at DATETIME NOT NULL,
        finished_at DATETIME NOT NULL,
        variants INTEGER NOT NULL DEFAULT 0,
        frames INTEGER NOT NULL DEFAULT 0,
        final_loss REAL,
        config TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_runs_gene ON runs(gene, started_at);
    `

	createVerdictsTable := `
    CREATE TABLE IF NOT EXISTS verdicts (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
        gene TEXT NOT NULL,
        variant TEXT NOT NULL,
        truth TEXT,
        decision TEXT NOT NULL,
        confidence REAL NOT NULL,
        certainty REAL NOT NULL,
        mean_benign REAL NOT NULL,
        mean_pathogenic REAL NOT NULL,
        std_benign REAL NOT NULL,
        std_pathogenic REAL NOT NULL,
        frames INTEGER NOT NULL,
        UNIQUE (run_id, variant)
    );
    CREATE INDEX IF NOT EXISTS idx_verdicts_variant ON verdicts(gene, variant);
    `

	if _, err := db.Exec(createRunsTable); err != nil {
		return xerrors.Newf("error creating runs table: %w", err)
	}
	if _, err := db.Exec(createVerdictsTable); err != nil {
		return xerrors.Newf("error creating verdicts table: %w", err)
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// StoreRun inserts or replaces a run record.
func (db *SQLiteClient) StoreRun(run *models.RunRecord) error {
	cached := 0
	if run.Cached {
		cached = 1
	}
	_, err := db.db.Exec(`
		INSERT OR REPLACE INTO runs (
			id, gene, method, seed, components, cached, started_at,
			finished_at, variants, frames, final_loss, config
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Gene,
		run.Method,
		run.Seed,
		run.Components,
		cached,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Variants,
		run.Frames,
		run.FinalLoss,
		run.ConfigYAML,
	)
	if err != nil {
		return xerrors.Newf("error storing run: %w", err)
	}
	return nil
}

// StoreVerdicts writes all verdicts of a run in one transaction.
func (db *SQLiteClient) StoreVerdicts(records []models.VerdictRecord) error {
	tx, err := db.db.Begin()
	if err != nil {
		return xerrors.Newf("error starting transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO verdicts (
			run_id, gene, variant, truth, decision, confidence, certainty,
			mean_benign, mean_pathogenic, std_benign, std_pathogenic, frames
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return xerrors.Newf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.RunID, r.Gene, r.VariantID, r.Truth, r.Decision, r.Confidence, r.Certainty,
			r.MeanBenign, r.MeanPathogenic, r.StdBenign, r.StdPathogenic, r.Frames); err != nil {
			tx.Rollback()
			return xerrors.Newf("error storing verdict for %s: %w", r.VariantID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by id.
func (db *SQLiteClient) GetRun(id string) (models.RunRecord, bool, error) {
	row := db.db.QueryRow(`
		SELECT id, gene, method, seed, components, cached, started_at,
		       finished_at, variants, frames, final_loss, config
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RunRecord{}, false, nil
		}
		return models.RunRecord{}, false, xerrors.Newf("failed to retrieve run: %w", err)
	}
	return run, true, nil
}

// ListRuns returns the runs of a gene, newest first. An empty gene lists all.
func (db *SQLiteClient) ListRuns(gene string) ([]models.RunRecord, error) {
	query := `
		SELECT id, gene, method, seed, components, cached, started_at,
		       finished_at, variants, frames, final_loss, config
		FROM runs`
	var args []any
	if gene != "" {
		query += " WHERE gene = ?"
		args = append(args, gene)
	}
	query += " ORDER BY started_at DESC"

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, xerrors.Newf("error querying runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, xerrors.Newf("error scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (models.RunRecord, error) {
	var run models.RunRecord
	var cached int
	var finalLoss sql.NullFloat64
	var config sql.NullString
	var started, finished time.Time
	err := s.Scan(
		&run.ID,
		&run.Gene,
		&run.Method,
		&run.Seed,
		&run.Components,
		&cached,
		&started,
		&finished,
		&run.Variants,
		&run.Frames,
		&finalLoss,
		&config,
	)
	if err != nil {
		return models.RunRecord{}, err
	}
	run.Cached = cached == 1
	run.StartedAt = started
	run.FinishedAt = finished
	run.FinalLoss = finalLoss.Float64
	run.ConfigYAML = config.String
	return run, nil
}

// GetVerdicts retrieves the verdicts of a run in insertion order.
func (db *SQLiteClient) GetVerdicts(runID string) ([]models.VerdictRecord, error) {
	rows, err := db.db.Query(`
		SELECT id, run_id, gene, variant, truth, decision, confidence, certainty,
		       mean_benign, mean_pathogenic, std_benign, std_pathogenic, frames
		FROM verdicts
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, xerrors.Newf("error querying verdicts: %w", err)
	}
	defer rows.Close()

	var records []models.VerdictRecord
	for rows.Next() {
		var r models.VerdictRecord
		var truth sql.NullString
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Gene,
			&r.VariantID,
			&truth,
			&r.Decision,
			&r.Confidence,
			&r.Certainty,
			&r.MeanBenign,
			&r.MeanPathogenic,
			&r.StdBenign,
			&r.StdPathogenic,
			&r.Frames,
		)
		if err != nil {
			return nil, xerrors.Newf("error scanning verdict: %w", err)
		}
		r.Truth = truth.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// VariantHistory returns every stored verdict for one variant of a gene,
// oldest run first.
func (db *SQLiteClient) VariantHistory(gene, variant string) ([]models.VerdictRecord, error) {
	rows, err := db.db.Query(`
		SELECT v.run_id, v.decision, v.confidence, v.certainty, v.frames
		FROM verdicts v JOIN runs r ON r.id = v.run_id
		WHERE v.gene = ? AND v.variant = ?
		ORDER BY r.started_at`, gene, variant)
	if err != nil {
		return nil, xerrors.Newf("error querying variant history: %w", err)
	}
	defer rows.Close()

	var records []models.VerdictRecord
	for rows.Next() {
		r := models.VerdictRecord{Gene: gene, VariantID: variant}
		if err := rows.Scan(&r.RunID, &r.Decision, &r.Confidence, &r.Certainty, &r.Frames); err != nil {
			return nil, xerrors.Newf("error scanning verdict: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteRun removes a run and its verdicts.
func (db *SQLiteClient) DeleteRun(id string) error {
	tx, err := db.db.Begin()
	if err != nil {
		return xerrors.Newf("error starting transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM verdicts WHERE run_id = ?", id); err != nil {
		tx.Rollback()
		return xerrors.Newf("failed to delete verdicts: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
		tx.Rollback()
		return xerrors.Newf("failed to delete run: %w", err)
	}
	return tx.Commit()
}
