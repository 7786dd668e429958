// Package mssql implements store.Store on SQL Server via database/sql.
//
// Semantics match the sqlite and postgres backends. DDL uses OBJECT_ID
// guards because SQL Server has no CREATE TABLE IF NOT EXISTS; timestamps
// use DATETIMEOFFSET so the stored instant survives server timezone
// settings.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"datalab/internal/lifecycle"
	"datalab/internal/store"
)

// Repo implements store.Store for SQL Server.
type Repo struct {
	db *sql.DB
}

func init() {
	store.Register("mssql", New)
}

// New connects to the SQL Server instance at cfg.DSN.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Init(ctx context.Context) error {
	stmts := []string{
		`IF OBJECT_ID(N'datasets', N'U') IS NULL
		CREATE TABLE datasets (
			id                NVARCHAR(64) NOT NULL PRIMARY KEY,
			name              NVARCHAR(400) NOT NULL,
			source_path       NVARCHAR(1000) NOT NULL,
			raw_version_id    NVARCHAR(64) NOT NULL,
			active_version_id NVARCHAR(64) NOT NULL,
			created_at        DATETIMEOFFSET NOT NULL
		)`,
		`IF OBJECT_ID(N'dataset_versions', N'U') IS NULL
		CREATE TABLE dataset_versions (
			dataset_id    NVARCHAR(64) NOT NULL,
			id            NVARCHAR(64) NOT NULL,
			seq           BIGINT NOT NULL,
			parent_id     NVARCHAR(64) NULL,
			stage         NVARCHAR(32) NOT NULL,
			pipeline      NVARCHAR(MAX) NOT NULL,
			location_kind NVARCHAR(16) NOT NULL,
			location_path NVARCHAR(1000) NOT NULL,
			metadata      NVARCHAR(MAX) NOT NULL,
			created_at    DATETIMEOFFSET NOT NULL,
			CONSTRAINT pk_dataset_versions PRIMARY KEY (dataset_id, id),
			CONSTRAINT uq_dataset_versions_seq UNIQUE (dataset_id, seq)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("mssql init: %w", err)
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
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6)`,
		d.ID, d.Name, d.SourcePath, d.RawVersionID, d.ActiveVersionID, d.CreatedAt.UTC())
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
	var parent any
	if row.ParentID != "" {
		parent = row.ParentID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO dataset_versions
			(dataset_id, id, seq, parent_id, stage, pipeline, location_kind, location_path, metadata, created_at)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10)`,
		row.DatasetID, row.ID, seq, parent, row.Stage,
		row.PipelineJSON, row.LocationKind, row.LocationPath, row.MetadataJSON, v.CreatedAt.UTC())
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
	// UPDLOCK serializes concurrent appends to the same dataset without a
	// table-wide lock.
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM datasets WITH (UPDLOCK, ROWLOCK) WHERE id = @p1`, datasetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return err
	}

	if v.ParentID != "" {
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM dataset_versions WHERE dataset_id = @p1 AND id = @p2`,
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
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM dataset_versions WHERE dataset_id = @p1`,
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
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM datasets WITH (UPDLOCK, ROWLOCK) WHERE id = @p1`, datasetID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("dataset %s: %w", datasetID, lifecycle.ErrDatasetNotFound)
	}
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM dataset_versions WHERE dataset_id = @p1 AND id = @p2`,
		datasetID, versionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("version %s: %w", versionID, lifecycle.ErrVersionNotInDataset)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE datasets SET active_version_id = @p1 WHERE id = @p2`, versionID, datasetID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repo) GetDataset(ctx context.Context, id string) (*lifecycle.Dataset, error) {
	var d lifecycle.Dataset
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, source_path, raw_version_id, active_version_id, created_at
		 FROM datasets WHERE id = @p1`, id).
		Scan(&d.ID, &d.Name, &d.SourcePath, &d.RawVersionID, &d.ActiveVersionID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := r.db.QueryContext(ctx,
		`SELECT dataset_id, id, seq, parent_id, stage, pipeline, location_kind, location_path, metadata, created_at
		 FROM dataset_versions WHERE dataset_id = @p1 ORDER BY seq`, d.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var vr store.VersionRow
		var parent sql.NullString
		var created time.Time
		if err := rows.Scan(&vr.DatasetID, &vr.ID, &vr.Seq, &parent, &vr.Stage,
			&vr.PipelineJSON, &vr.LocationKind, &vr.LocationPath, &vr.MetadataJSON, &created); err != nil {
			return err
		}
		vr.ParentID = parent.String
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

var _ store.Store = (*Repo)(nil)
