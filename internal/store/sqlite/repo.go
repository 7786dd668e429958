// Package sqlite implements store.Store on modernc.org/sqlite.
//
// This is the default backend for the desktop workbench: a single local file
// (or :memory: for tests), no server to run. Timestamps are stored as
// RFC3339Nano strings — SQLite has no native timestamp type and TEXT
// affinity round-trips reliably and stays debuggable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"datalab/internal/lifecycle"
	"datalab/internal/store"
)

// Repo implements store.Store for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	store.Register("sqlite", New)
}

// New opens (or creates) the SQLite database at cfg.DSN.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY on concurrent transaction starts.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			source_path       TEXT NOT NULL,
			raw_version_id    TEXT NOT NULL,
			active_version_id TEXT NOT NULL,
			created_at        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dataset_versions (
			dataset_id    TEXT NOT NULL,
			id            TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			parent_id     TEXT,
			stage         TEXT NOT NULL,
			pipeline      TEXT NOT NULL,
			location_kind TEXT NOT NULL,
			location_path TEXT NOT NULL,
			metadata      TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			PRIMARY KEY (dataset_id, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ix_dataset_versions_seq
			ON dataset_versions(dataset_id, seq)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlite init: %w", err)
		}
	}
	return nil
}

func (r *Repo) InsertDataset(ctx context.Context, d *lifecycle.Dataset) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (id, name, source_path, raw_version_id, active_version_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.SourcePath, d.RawVersionID, d.ActiveVersionID, store.FormatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}

	for i, v := range d.Versions {
		if err := insertVersionTx(ctx, tx, v, int64(i+1)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertVersionTx(ctx context.Context, tx *sql.Tx, v *lifecycle.DatasetVersion, seq int64) error {
	row, err := store.EncodeVersion(v)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO dataset_versions
			(dataset_id, id, seq, parent_id, stage, pipeline, location_kind, location_path, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.DatasetID, row.ID, seq, nullable(row.ParentID), row.Stage,
		row.PipelineJSON, row.LocationKind, row.LocationPath, row.MetadataJSON, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version %s: %w", v.ID, err)
	}
	return nil
}

func (r *Repo) AppendVersion(ctx context.Context, datasetID string, v *lifecycle.DatasetVersion) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM datasets WHERE id = ?`, datasetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return err
	}

	if v.ParentID != "" {
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM dataset_versions WHERE dataset_id = ? AND id = ?`,
			datasetID, v.ParentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("parent %s: %w", v.ParentID, lifecycle.ErrParentNotFound)
		}
		if err != nil {
			return err
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM dataset_versions WHERE dataset_id = ?`,
		datasetID).Scan(&seq); err != nil {
		return err
	}

	if err := insertVersionTx(ctx, tx, v, seq); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) SetActiveVersion(ctx context.Context, datasetID, versionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM datasets WHERE id = ?`, datasetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM dataset_versions WHERE dataset_id = ? AND id = ?`,
		datasetID, versionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("version %s: %w", versionID, lifecycle.ErrVersionNotInDataset)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE datasets SET active_version_id = ? WHERE id = ?`, versionID, datasetID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) GetDataset(ctx context.Context, id string) (*lifecycle.Dataset, error) {
	d, err := r.scanDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.loadVersions(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Repo) scanDataset(ctx context.Context, id string) (*lifecycle.Dataset, error) {
	var d lifecycle.Dataset
	var created string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, source_path, raw_version_id, active_version_id, created_at
		 FROM datasets WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &d.SourcePath, &d.RawVersionID, &d.ActiveVersionID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt, err = store.ParseTime(created)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: decode created_at: %w", id, err)
	}
	return &d, nil
}

func (r *Repo) loadVersions(ctx context.Context, d *lifecycle.Dataset) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dataset_id, id, seq, parent_id, stage, pipeline, location_kind, location_path, metadata, created_at
		 FROM dataset_versions WHERE dataset_id = ? ORDER BY seq`, d.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var vr store.VersionRow
		var parent sql.NullString
		if err := rows.Scan(&vr.DatasetID, &vr.ID, &vr.Seq, &parent, &vr.Stage,
			&vr.PipelineJSON, &vr.LocationKind, &vr.LocationPath, &vr.MetadataJSON, &vr.CreatedAt); err != nil {
			return err
		}
		vr.ParentID = parent.String
		v, err := store.DecodeVersion(vr)
		if err != nil {
			return err
		}
		d.Versions = append(d.Versions, v)
	}
	return rows.Err()
}

func (r *Repo) ListDatasets(ctx context.Context) ([]*lifecycle.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM datasets ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*lifecycle.Dataset, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetDataset(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ store.Store = (*Repo)(nil)
