// Package postgres implements store.Store on pgx.
//
// Intended for shared deployments where several analysts work against the
// same catalog. Semantics match the sqlite and mssql backends; timestamps
// use native timestamptz instead of text.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"datalab/internal/lifecycle"
	"datalab/internal/store"
)

// Repo implements store.Store for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	store.Register("postgres", New)
}

// New connects to the Postgres instance at cfg.DSN.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			source_path       TEXT NOT NULL,
			raw_version_id    TEXT NOT NULL,
			active_version_id TEXT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dataset_versions (
			dataset_id    TEXT NOT NULL,
			id            TEXT NOT NULL,
			seq           BIGINT NOT NULL,
			parent_id     TEXT,
			stage         TEXT NOT NULL,
			pipeline      TEXT NOT NULL,
			location_kind TEXT NOT NULL,
			location_path TEXT NOT NULL,
			metadata      TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (dataset_id, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ix_dataset_versions_seq
			ON dataset_versions(dataset_id, seq)`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}
	return nil
}

func (r *Repo) InsertDataset(ctx context.Context, d *lifecycle.Dataset) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO datasets (id, name, source_path, raw_version_id, active_version_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Name, d.SourcePath, d.RawVersionID, d.ActiveVersionID, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}

	for i, v := range d.Versions {
		if err := insertVersionTx(ctx, tx, v, int64(i+1)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertVersionTx(ctx context.Context, tx pgx.Tx, v *lifecycle.DatasetVersion, seq int64) error {
	row, err := store.EncodeVersion(v)
	if err != nil {
		return err
	}
	var parent any
	if row.ParentID != "" {
		parent = row.ParentID
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO dataset_versions
			(dataset_id, id, seq, parent_id, stage, pipeline, location_kind, location_path, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.DatasetID, row.ID, seq, parent, row.Stage,
		row.PipelineJSON, row.LocationKind, row.LocationPath, row.MetadataJSON, v.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert version %s: %w", v.ID, err)
	}
	return nil
}

func (r *Repo) AppendVersion(ctx context.Context, datasetID string, v *lifecycle.DatasetVersion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM datasets WHERE id = $1 FOR UPDATE`, datasetID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return err
	}

	if v.ParentID != "" {
		err = tx.QueryRow(ctx,
			`SELECT 1 FROM dataset_versions WHERE dataset_id = $1 AND id = $2`,
			datasetID, v.ParentID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("parent %s: %w", v.ParentID, lifecycle.ErrParentNotFound)
		}
		if err != nil {
			return err
		}
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM dataset_versions WHERE dataset_id = $1`,
		datasetID).Scan(&seq); err != nil {
		return err
	}

	if err := insertVersionTx(ctx, tx, v, seq); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) SetActiveVersion(ctx context.Context, datasetID, versionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM datasets WHERE id = $1 FOR UPDATE`, datasetID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return err
	}

	err = tx.QueryRow(ctx,
		`SELECT 1 FROM dataset_versions WHERE dataset_id = $1 AND id = $2`,
		datasetID, versionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("version %s: %w", versionID, lifecycle.ErrVersionNotInDataset)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE datasets SET active_version_id = $1 WHERE id = $2`, versionID, datasetID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) GetDataset(ctx context.Context, id string) (*lifecycle.Dataset, error) {
	var d lifecycle.Dataset
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, source_path, raw_version_id, active_version_id, created_at
		 FROM datasets WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.SourcePath, &d.RawVersionID, &d.ActiveVersionID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadVersions(ctx, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repo) loadVersions(ctx context.Context, d *lifecycle.Dataset) error {
	rows, err := r.pool.Query(ctx,
		`SELECT dataset_id, id, seq, parent_id, stage, pipeline, location_kind, location_path, metadata, created_at
		 FROM dataset_versions WHERE dataset_id = $1 ORDER BY seq`, d.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var vr store.VersionRow
		var parent *string
		var created time.Time
		if err := rows.Scan(&vr.DatasetID, &vr.ID, &vr.Seq, &parent, &vr.Stage,
			&vr.PipelineJSON, &vr.LocationKind, &vr.LocationPath, &vr.MetadataJSON, &created); err != nil {
			return err
		}
		if parent != nil {
			vr.ParentID = *parent
		}
		vr.CreatedAt = store.FormatTime(created)
		v, err := store.DecodeVersion(vr)
		if err != nil {
			return err
		}
		d.Versions = append(d.Versions, v)
	}
	return rows.Err()
}

func (r *Repo) ListDatasets(ctx context.Context) ([]*lifecycle.Dataset, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM datasets ORDER BY created_at, id`)
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

var _ store.Store = (*Repo)(nil)
