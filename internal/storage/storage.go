package storage

import (
	"context"
	"sync"
	"time"

	"patchwork-bot/internal/domain"
)

// TaskRecord is the persisted outcome of one review or autofix task.
type TaskRecord struct {
	ID           string             `json:"id"`
	RepoFullName string             `json:"repo_full_name"`
	Number       int                `json:"number"`
	Action       domain.TaskAction  `json:"action"`
	HeadSHA      string             `json:"head_sha"`
	Result       *domain.TaskResult `json:"result"`
	CreatedAt    time.Time          `json:"created_at"`
	DurationMs   int64              `json:"duration_ms"`
	Status       string             `json:"status"` // ok, pr_closed, duplicate, failed
}

// Repository persists task history and idempotency keys.
type Repository interface {
	SaveTask(ctx context.Context, record *TaskRecord) error
	ListTasksByPR(ctx context.Context, repoFullName string, number int) ([]*TaskRecord, error)
	ListRecentTasks(ctx context.Context, limit int) ([]*TaskRecord, error)

	// MarkSeen records an idempotency key (delivery ID or autofix commit key)
	// and reports whether this call was the first to record it.
	MarkSeen(ctx context.Context, key string) (first bool, err error)

	// Forget removes an idempotency key so a later MarkSeen reports first
	// again. Used when a marked delivery is dropped without running, so the
	// sender's retry is not swallowed.
	Forget(ctx context.Context, key string) error

	Close() error
}

// MemoryRepository is the zero-dependency fallback used when no storage driver
// is configured. History lives only for the process lifetime.
type MemoryRepository struct {
	mu    sync.Mutex
	tasks []*TaskRecord
	seen  map[string]struct{}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{seen: map[string]struct{}{}}
}

func (m *MemoryRepository) SaveTask(_ context.Context, record *TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, record)
	return nil
}

func (m *MemoryRepository) ListTasksByPR(_ context.Context, repoFullName string, number int) ([]*TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TaskRecord
	for i := len(m.tasks) - 1; i >= 0; i-- {
		t := m.tasks[i]
		if t.RepoFullName == repoFullName && t.Number == number {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ListRecentTasks(_ context.Context, limit int) ([]*TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TaskRecord
	for i := len(m.tasks) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.tasks[i])
	}
	return out, nil
}

func (m *MemoryRepository) MarkSeen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

func (m *MemoryRepository) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

func (m *MemoryRepository) Close() error { return nil }
