package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// pragmas are applied to every new database handle.
var pragmas = []struct{ stmt, what string }{
	{"PRAGMA journal_mode=WAL", "enable WAL mode"},
	{"PRAGMA busy_timeout=5000", "set busy timeout"},
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; the runner and generator record concurrently.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// OpenMigrated opens dbPath and applies pending migrations.
func OpenMigrated(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	s, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newULID generates a new ULID string, increasing within a millisecond.
func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Migrate applies embedded migrations that have not run yet, in file name
// order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		if err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = ?)", name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Executions ---

// RecordExecution inserts rec, or updates it when its ID is already stored.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = time.Now().UTC()
	}
	var exit sql.NullInt64
	if rec.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*rec.ExitCode), Valid: true}
	}
	var end sql.NullTime
	if rec.EndTime != nil {
		end = sql.NullTime{Time: rec.EndTime.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, run_key, status, reason, output, exit_code, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, reason = excluded.reason, output = excluded.output,
			exit_code = excluded.exit_code, end_time = excluded.end_time`,
		rec.ID, rec.Key, string(rec.Status), rec.Reason, rec.Output, exit, rec.StartTime.UTC(), end,
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

const executionColumns = `id, run_key, status, reason, output, exit_code, start_time, end_time`

func scanExecution(row interface{ Scan(...any) error }) (*models.ExecutionRecord, error) {
	rec := &models.ExecutionRecord{}
	var status string
	var exit sql.NullInt64
	var end sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Key, &status, &rec.Reason, &rec.Output, &exit, &rec.StartTime, &end); err != nil {
		return nil, err
	}
	rec.Status = models.ExecutionStatus(status)
	if exit.Valid {
		code := int(exit.Int64)
		rec.ExitCode = &code
	}
	if end.Valid {
		t := end.Time
		rec.EndTime = &t
	}
	return rec, nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	rec, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

// ListExecutions returns matching executions, newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var where []string
	var args []any
	if filter.Key != "" {
		where = append(where, "run_key = ?")
		args = append(args, filter.Key)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Artifacts ---

func (s *SQLiteStore) SaveArtifact(ctx context.Context, rec *models.ArtifactRecord) error {
	if rec.SourcePath == "" {
		return fmt.Errorf("save artifact: source path is required")
	}
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.Kind == "" {
		rec.Kind = models.ArtifactGenerated
	}
	rec.CreatedAt = time.Now().UTC()

	cases, err := json.Marshal(nonNil(rec.Artifact.TestCases))
	if err != nil {
		return fmt.Errorf("marshal test cases: %w", err)
	}
	deps, err := json.Marshal(nonNil(rec.Artifact.Dependencies))
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, source_path, test_path, kind, test_code, explanation, test_cases, dependencies, setup_instructions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourcePath, rec.TestPath, rec.Kind, rec.Artifact.TestCode, rec.Artifact.Explanation,
		string(cases), string(deps), rec.Artifact.SetupInstructions, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns matching artifacts, newest first.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]*models.ArtifactRecord, error) {
	query := `SELECT id, source_path, test_path, kind, test_code, explanation, test_cases, dependencies, setup_instructions, created_at FROM artifacts`
	var where []string
	var args []any
	if filter.SourcePath != "" {
		where = append(where, "source_path = ?")
		args = append(args, filter.SourcePath)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*models.ArtifactRecord
	for rows.Next() {
		rec := &models.ArtifactRecord{}
		var cases, deps string
		if err := rows.Scan(&rec.ID, &rec.SourcePath, &rec.TestPath, &rec.Kind, &rec.Artifact.TestCode,
			&rec.Artifact.Explanation, &cases, &deps, &rec.Artifact.SetupInstructions, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if err := json.Unmarshal([]byte(cases), &rec.Artifact.TestCases); err != nil {
			return nil, fmt.Errorf("decode test cases: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &rec.Artifact.Dependencies); err != nil {
			return nil, fmt.Errorf("decode dependencies: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
