package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"patchwork-bot/internal/domain"

	_ "modernc.org/sqlite" // Pure Go driver, CGO-free, compatible with CGO_ENABLED=0
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS tasks (
        id             TEXT PRIMARY KEY,
        repo_full_name TEXT NOT NULL,
        pr_number      INTEGER NOT NULL,
        action         TEXT NOT NULL,
        head_sha       TEXT NOT NULL,
        result_data    TEXT NOT NULL,
        created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
        duration_ms    INTEGER,
        status         TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_tasks_pr ON tasks(repo_full_name, pr_number);
    CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);

    CREATE TABLE IF NOT EXISTS seen_keys (
        key        TEXT PRIMARY KEY,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := db.Exec(schema)
	return err
}

func (r *SQLiteRepository) SaveTask(ctx context.Context, record *TaskRecord) error {
	resultData, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO tasks (id, repo_full_name, pr_number, action, head_sha, result_data, duration_ms, status, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, record.ID, record.RepoFullName, record.Number, string(record.Action),
		record.HeadSHA, string(resultData), record.DurationMs, record.Status, record.CreatedAt)
	return err
}

func (r *SQLiteRepository) ListTasksByPR(ctx context.Context, repoFullName string, number int) ([]*TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, repo_full_name, pr_number, action, head_sha, result_data, created_at, duration_ms, status
        FROM tasks
        WHERE repo_full_name = ? AND pr_number = ?
        ORDER BY created_at DESC
    `, repoFullName, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *SQLiteRepository) ListRecentTasks(ctx context.Context, limit int) ([]*TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, repo_full_name, pr_number, action, head_sha, result_data, created_at, duration_ms, status
        FROM tasks
        ORDER BY created_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// MarkSeen inserts the key, relying on the primary-key constraint for
// first-writer-wins semantics across concurrent callers.
func (r *SQLiteRepository) MarkSeen(ctx context.Context, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_keys (key) VALUES (?)`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Forget removes an idempotency key recorded by MarkSeen.
func (r *SQLiteRepository) Forget(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM seen_keys WHERE key = ?`, key)
	return err
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func collectTasks(rows *sql.Rows) ([]*TaskRecord, error) {
	var tasks []*TaskRecord
	for rows.Next() {
		record, err := scanTask(rows)
		if err != nil {
			slog.Warn("scan task failed", "error", err)
			continue
		}
		tasks = append(tasks, record)
	}
	return tasks, rows.Err()
}

func scanTask(s interface{ Scan(dest ...any) error }) (*TaskRecord, error) {
	var id, repoFullName, action, headSHA, resultData, status string
	var number int
	var createdAt time.Time
	var durationMs int64

	if err := s.Scan(&id, &repoFullName, &number, &action, &headSHA, &resultData, &createdAt, &durationMs, &status); err != nil {
		return nil, err
	}

	var result domain.TaskResult
	if err := json.Unmarshal([]byte(resultData), &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	return &TaskRecord{
		ID:           id,
		RepoFullName: repoFullName,
		Number:       number,
		Action:       domain.TaskAction(action),
		HeadSHA:      headSHA,
		Result:       &result,
		CreatedAt:    createdAt,
		DurationMs:   durationMs,
		Status:       status,
	}, nil
}
