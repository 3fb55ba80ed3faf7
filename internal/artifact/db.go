package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rulstack/rulstack/internal/engine"
	"github.com/rulstack/rulstack/internal/health"
	"github.com/rulstack/rulstack/pkg/types"
)

// ErrNotFound is returned when a requested run or transform is not stored.
var ErrNotFound = errors.New("not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transforms (
	run_id     TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	body       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS feature_schema (
	transform_id TEXT NOT NULL REFERENCES transforms(run_id),
	position     INTEGER NOT NULL,
	name         TEXT NOT NULL,
	role         TEXT NOT NULL,
	source       TEXT NOT NULL,
	win          INTEGER NOT NULL,
	PRIMARY KEY (transform_id, position)
);
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	transform_id TEXT NOT NULL REFERENCES transforms(run_id),
	mode         TEXT NOT NULL,
	dataset      TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	row_count    INTEGER NOT NULL,
	unit_count   INTEGER NOT NULL,
	masked       INTEGER NOT NULL,
	sanitized    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS feature_rows (
	run_id TEXT NOT NULL REFERENCES runs(id),
	unit   INTEGER NOT NULL,
	cycle  INTEGER NOT NULL,
	vals   TEXT NOT NULL,
	PRIMARY KEY (run_id, unit, cycle)
);
CREATE TABLE IF NOT EXISTS unit_summary (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	unit         INTEGER NOT NULL,
	last_cycle   INTEGER NOT NULL,
	rul          REAL NOT NULL,
	health_index REAL NOT NULL,
	percent      REAL NOT NULL,
	state        TEXT NOT NULL,
	PRIMARY KEY (run_id, unit)
);`

// DB is the SQLite artifact database: fitted transforms, their column
// schema, and the feature rows and unit summaries of every run.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the artifact database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %q: %w", path, err)
	}
	// A single connection keeps the pragmas below in effect for every call.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		schemaSQL,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("artifact: init %q: %w", path, err)
		}
	}
	slog.Debug("artifact: database ready", "path", path)
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveRun records one engine result under dataset: the transform and its
// schema (once per transform), the run, every feature row, and the unit
// summaries. It returns the run id. A fit run takes the transform's id; an
// apply run gets a fresh one.
func (d *DB) SaveRun(ctx context.Context, dataset string, res *engine.Result, sums []health.UnitSummary) (string, error) {
	tr := res.Transform
	runID := tr.RunID
	if res.Report.Mode != "fit" {
		runID = ulid.Make().String()
	}
	body, err := json.Marshal(tr)
	if err != nil {
		return "", fmt.Errorf("artifact: encode transform: %w", err)
	}

	err = d.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO transforms (run_id, created_at, body) VALUES (?, ?, ?)`,
			tr.RunID, tr.CreatedAt.UTC().Format(time.RFC3339Nano), string(body)); err != nil {
			return fmt.Errorf("insert transform: %w", err)
		}
		for pos, col := range res.Table.Columns {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO feature_schema (transform_id, position, name, role, source, win) VALUES (?, ?, ?, ?, ?, ?)`,
				tr.RunID, pos, col.Name, col.Role.String(), col.Source, col.Window); err != nil {
				return fmt.Errorf("insert schema: %w", err)
			}
		}

		frep := res.Report.Features
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, transform_id, mode, dataset, finished_at, row_count, unit_count, masked, sanitized)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, tr.RunID, res.Report.Mode, dataset, d.now().UTC().Format(time.RFC3339Nano),
			res.Report.Rows, res.Report.Units, frep.Masked, frep.Sanitized); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		rowStmt, err := tx.PrepareContext(ctx, `INSERT INTO feature_rows (run_id, unit, cycle, vals) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare rows: %w", err)
		}
		defer rowStmt.Close()
		t := res.Table
		all := make([]int, len(t.Columns))
		for c := range all {
			all[c] = c
		}
		for i := 0; i < t.Len(); i++ {
			vals, err := json.Marshal(t.Row(i, all))
			if err != nil {
				return fmt.Errorf("encode row %d: %w", i, err)
			}
			if _, err := rowStmt.ExecContext(ctx, runID, t.Units[i], t.Cycles[i], string(vals)); err != nil {
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}

		for _, s := range sums {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unit_summary (run_id, unit, last_cycle, rul, health_index, percent, state) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				runID, s.Unit, s.LastCycle, s.RUL, s.HealthIndex, s.Percent, s.State); err != nil {
				return fmt.Errorf("insert summary for unit %d: %w", s.Unit, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("artifact: save run: %w", err)
	}
	slog.Info("artifact: run saved", "run_id", runID, "mode", res.Report.Mode, "dataset", dataset, "rows", res.Table.Len())
	return runID, nil
}

// LoadTransform returns the transform with the given run id, or the most
// recently created one when id is empty.
func (d *DB) LoadTransform(ctx context.Context, id string) (*types.FittedTransform, error) {
	var row *sql.Row
	if id == "" {
		row = d.db.QueryRowContext(ctx, `SELECT body FROM transforms ORDER BY created_at DESC, run_id DESC LIMIT 1`)
	} else {
		row = d.db.QueryRowContext(ctx, `SELECT body FROM transforms WHERE run_id = ?`, id)
	}
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact: transform %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("artifact: load transform: %w", err)
	}
	return decodeTransform([]byte(body))
}

// LoadSchema returns the ordered column metadata recorded for a transform.
func (d *DB) LoadSchema(ctx context.Context, transformID string) ([]types.Column, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, role, source, win FROM feature_schema WHERE transform_id = ? ORDER BY position`, transformID)
	if err != nil {
		return nil, fmt.Errorf("artifact: load schema: %w", err)
	}
	defer rows.Close()

	var out []types.Column
	for rows.Next() {
		var (
			col  types.Column
			role string
		)
		if err := rows.Scan(&col.Name, &role, &col.Source, &col.Window); err != nil {
			return nil, fmt.Errorf("artifact: scan schema: %w", err)
		}
		if col.Role, err = parseRole(role); err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: load schema: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("artifact: schema of transform %q: %w", transformID, ErrNotFound)
	}
	return out, nil
}

// LoadTable rebuilds the feature table stored for a run.
func (d *DB) LoadTable(ctx context.Context, runID string) (*types.Table, error) {
	var transformID string
	err := d.db.QueryRowContext(ctx, `SELECT transform_id FROM runs WHERE id = ?`, runID).Scan(&transformID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact: run %q: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: load run: %w", err)
	}
	cols, err := d.LoadSchema(ctx, transformID)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT unit, cycle, vals FROM feature_rows WHERE run_id = ? ORDER BY unit, cycle`, runID)
	if err != nil {
		return nil, fmt.Errorf("artifact: load rows: %w", err)
	}
	defer rows.Close()

	t := &types.Table{Columns: cols, Values: make([][]float64, len(cols))}
	for rows.Next() {
		var (
			unit, cycle int
			raw         string
			vals        []float64
		)
		if err := rows.Scan(&unit, &cycle, &raw); err != nil {
			return nil, fmt.Errorf("artifact: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return nil, fmt.Errorf("artifact: decode row (%d, %d): %w", unit, cycle, err)
		}
		if len(vals) != len(cols) {
			return nil, fmt.Errorf("artifact: row (%d, %d) has %d values, schema has %d: %w",
				unit, cycle, len(vals), len(cols), types.ErrSchema)
		}
		t.Units = append(t.Units, unit)
		t.Cycles = append(t.Cycles, cycle)
		for c, v := range vals {
			t.Values[c] = append(t.Values[c], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: load rows: %w", err)
	}
	return t, nil
}

// transaction executes fn within a database transaction.
func (d *DB) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%v; rollback: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func parseRole(s string) (types.Role, error) {
	for r := types.RoleSetting; r <= types.RoleHealthIndex; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("artifact: unknown column role %q: %w", s, types.ErrSchema)
}
