package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	stdsync "sync"
	"unicode/utf8"

	"patchwork-bot/internal/config"
	"patchwork-bot/internal/domain"
	"patchwork-bot/internal/metrics"
	"patchwork-bot/internal/storage"
	psync "patchwork-bot/internal/sync"
)

// TaskRunner executes one dispatched task. review.Runner satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task domain.Task) *domain.TaskResult
}

// Handler receives GitHub webhook deliveries, verifies them, and routes the
// resulting tasks to bounded background execution.
type Handler struct {
	runner   TaskRunner
	repo     storage.Repository
	config   *config.Config
	locks    *psync.KeyLock
	debounce *psync.Debouncer
	sem      chan struct{} // Semaphore to limit concurrent processing
	wg       stdsync.WaitGroup
}

func NewHandler(cfg *config.Config, runner TaskRunner, repo storage.Repository) *Handler {
	return &Handler{
		runner:   runner,
		repo:     repo,
		config:   cfg,
		locks:    psync.NewKeyLock(),
		debounce: psync.NewDebouncer(cfg.Review.DebounceTTL),
		sem:      make(chan struct{}, cfg.Server.ConcurrencyLimit),
	}
}

// WaitForCompletion blocks until all background tasks complete.
func (h *Handler) WaitForCompletion() {
	h.wg.Wait()
}

// ServeHTTP handles incoming webhook requests. Verification and routing are
// synchronous; task execution is fire-and-forget behind the semaphore.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Debug("received webhook request", "method", r.Method, "content_length", r.ContentLength)
	metrics.WebhookRequests.WithLabelValues("received").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// 1. Security: Limit request body size
	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("read body failed", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("error_read").Inc()
		return
	}

	// 2. Security: Verify the signature before touching a byte of the payload.
	// No configured secret rejects everything.
	if !Verify(body, r.Header.Get("X-Hub-Signature-256"), h.config.Server.WebhookSecret) {
		slog.Warn("invalid or missing signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		metrics.WebhookRequests.WithLabelValues("invalid_signature").Inc()
		return
	}

	if !utf8.Valid(body) {
		slog.Warn("request body is not valid utf-8")
		http.Error(w, "Invalid encoding", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("invalid_encoding").Inc()
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")

	// 3. Idempotency: a redelivered delivery ID is acknowledged but not re-run.
	if deliveryID != "" && !h.firstDelivery(r.Context(), deliveryID) {
		slog.Info("duplicate delivery ignored", "delivery_id", deliveryID)
		metrics.WebhookRequests.WithLabelValues("duplicate").Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Duplicate delivery ignored")
		return
	}

	tasks := Dispatch(event, deliveryID, body)
	if len(tasks) == 0 {
		slog.Info("ignoring event", "event", event, "delivery_id", deliveryID)
		metrics.WebhookRequests.WithLabelValues("ignored_event").Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Event ignored")
		return
	}

	for _, task := range tasks {
		// Rapid pushes coalesce: only the last synchronize within the TTL
		// window triggers a review of the final head commit.
		if task.Trigger == "synchronize" {
			t := task
			h.debounce.Add(t.RepoFullName+"#"+fmt.Sprint(t.Number), func() {
				if !h.launch(t) {
					slog.Warn("concurrency limit, debounced task dropped",
						"repo", t.RepoFullName, "pr", t.Number)
					metrics.WebhookRequests.WithLabelValues("dropped_concurrency").Inc()
					h.forgetDelivery(t.DeliveryID)
				}
			})
			continue
		}

		// 4. Concurrency: check capacity BEFORE creating the goroutine.
		if !h.launch(task) {
			slog.Warn("concurrency limit, request dropped")
			metrics.WebhookRequests.WithLabelValues("dropped_concurrency").Inc()
			// The delivery did not run; let the sender's retry through.
			h.forgetDelivery(deliveryID)
			http.Error(w, "Server busy, please retry later", http.StatusTooManyRequests)
			return
		}
	}

	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Task queued")
}

// launch starts one task behind the semaphore and reports whether capacity
// allowed it.
func (h *Handler) launch(task domain.Task) bool {
	select {
	case h.sem <- struct{}{}:
	default:
		return false
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() { <-h.sem }()

		// Panic recovery to prevent goroutine crash
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered in task goroutine",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), h.config.Review.TaskTimeout)
		defer cancel()

		// Tasks for the same PR run one at a time.
		key := task.RepoFullName + "#" + fmt.Sprint(task.Number)
		h.locks.Lock(key)
		defer h.locks.Unlock(key)

		slog.Info("processing task",
			"action", task.Action,
			"repo", task.RepoFullName,
			"pr", task.Number,
			"trigger", task.Trigger,
			"delivery_id", task.DeliveryID)

		h.runner.Run(ctx, task)
	}()

	return true
}

// firstDelivery records the delivery ID and reports whether it is new.
// A storage failure lets the delivery through; duplicate work is preferable
// to dropped work.
func (h *Handler) firstDelivery(ctx context.Context, deliveryID string) bool {
	ctx, cancel := context.WithTimeout(ctx, h.config.Storage.Timeout)
	defer cancel()

	first, err := h.repo.MarkSeen(ctx, "delivery:"+deliveryID)
	if err != nil {
		slog.Warn("delivery dedup check failed, proceeding", "delivery_id", deliveryID, "error", err)
		return true
	}
	return first
}

// forgetDelivery releases a delivery ID that was marked seen but whose task
// was dropped before running.
func (h *Handler) forgetDelivery(deliveryID string) {
	if deliveryID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Storage.Timeout)
	defer cancel()
	if err := h.repo.Forget(ctx, "delivery:"+deliveryID); err != nil {
		slog.Warn("release delivery dedup key failed", "delivery_id", deliveryID, "error", err)
	}
}
