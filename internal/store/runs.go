package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// DBFile is the ledger's file name inside a results root.
const DBFile = "runs.db"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// timeFormat is fixed-width so timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one ledger row.
type RunRecord struct {
	ID         string     `json:"id"`
	Sweep      string     `json:"sweep"`
	Folder     string     `json:"folder"`
	Regions    []string   `json:"regions"`
	Amplitudes []float64  `json:"amplitudes"`
	B          float64    `json:"b"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long a finished run took, or zero.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore is the SQLite-backed run ledger.
type RunStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// OpenRunStore opens (creating if needed) the ledger under root.
func OpenRunStore(ctx context.Context, root string) (*RunStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results root: %w", err)
	}

	dbPath := filepath.Join(root, DBFile)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &RunStore{db: db, dbPath: dbPath, now: time.Now}, nil
}

// Path returns the database file path.
func (s *RunStore) Path() string { return s.dbPath }

// Close closes the database.
func (s *RunStore) Close() error { return s.db.Close() }

// Start records a run as running and returns its id. A missing ID is
// generated.
func (s *RunStore) Start(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	regions, err := json.Marshal(nonNil(rec.Regions))
	if err != nil {
		return "", fmt.Errorf("encoding regions: %w", err)
	}
	amps, err := json.Marshal(nonNil(rec.Amplitudes))
	if err != nil {
		return "", fmt.Errorf("encoding amplitudes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, sweep, folder, regions, amplitudes, b, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Sweep, rec.Folder, string(regions), string(amps), rec.B,
		StatusRunning, s.now().UTC().Format(timeFormat))
	if err != nil {
		return "", fmt.Errorf("failed to insert run %s: %w", rec.Folder, err)
	}
	return rec.ID, nil
}

// Finish sets a run's final status. errMsg is stored only for failures.
func (s *RunStore) Finish(ctx context.Context, id, status, errMsg string) error {
	if status != StatusSucceeded && status != StatusFailed {
		return fmt.Errorf("invalid final status %q", status)
	}
	var errVal any
	if status == StatusFailed {
		errVal = errMsg
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errVal, s.now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Get returns one run by id.
func (s *RunStore) Get(ctx context.Context, id string) (RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRuns+` WHERE id = ?`, id)
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	recs, err := scanRuns(rows)
	if err != nil {
		return RunRecord{}, err
	}
	if len(recs) == 0 {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return recs[0], nil
}

// List returns the runs of sweep in start order. An empty sweep lists all.
func (s *RunStore) List(ctx context.Context, sweep string) ([]RunRecord, error) {
	query := selectRuns
	var args []any
	if sweep != "" {
		query += ` WHERE sweep = ?`
		args = append(args, sweep)
	}
	query += ` ORDER BY started_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return scanRuns(rows)
}

// Succeeded reports whether folder has a succeeded run in sweep.
func (s *RunStore) Succeeded(ctx context.Context, sweep, folder string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE sweep = ? AND folder = ? AND status = ?`,
		sweep, folder, StatusSucceeded).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query run %s: %w", folder, err)
	}
	return n > 0, nil
}

const selectRuns = `SELECT id, sweep, folder, regions, amplitudes, b, status, error, started_at, finished_at FROM runs`

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec              RunRecord
			regions, amps    string
			errMsg, finished sql.NullString
			started          string
		)
		if err := rows.Scan(&rec.ID, &rec.Sweep, &rec.Folder, &regions, &amps, &rec.B,
			&rec.Status, &errMsg, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(regions), &rec.Regions); err != nil {
			return nil, fmt.Errorf("decoding regions of run %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(amps), &rec.Amplitudes); err != nil {
			return nil, fmt.Errorf("decoding amplitudes of run %s: %w", rec.ID, err)
		}
		rec.Error = errMsg.String

		t, err := time.Parse(timeFormat, started)
		if err != nil {
			return nil, fmt.Errorf("parsing start time of run %s: %w", rec.ID, err)
		}
		rec.StartedAt = t
		if finished.Valid {
			t, err := time.Parse(timeFormat, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parsing finish time of run %s: %w", rec.ID, err)
			}
			rec.FinishedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
