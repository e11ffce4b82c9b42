package review

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"patchwork-bot/internal/config"
)

func completionResponse(text string) string {
	return fmt.Sprintf(`{
		"id": "cmpl-1",
		"object": "chat.completion",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}]
	}`, text)
}

// llmStub serves an OpenAI-compatible completions endpoint that fails a set
// number of times before succeeding.
func llmStub(t *testing.T, failures int, failStatus int, text string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if int(calls.Add(1)) <= failures {
			w.WriteHeader(failStatus)
			fmt.Fprint(w, `{"error": {"message": "nope"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse(text))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newStubClient(endpoint string, maxRetries int) *Client {
	return NewClient(config.LLMConfig{
		Model:      "test-model",
		Endpoint:   endpoint,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	})
}

func TestClientReviewParsesResponse(t *testing.T) {
	srv, calls := llmStub(t, 0, 0, sampleReview)
	c := newStubClient(srv.URL, 0)

	out, err := c.Review(context.Background(), "print(1)", "Python", nil)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if out.Counts.Critical != 2 || out.Counts.High != 1 {
		t.Errorf("counts = %+v", out.Counts)
	}
	if out.RawText == "" || out.Summary == "" {
		t.Errorf("outcome missing narrative: %+v", out)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	srv, calls := llmStub(t, 1, http.StatusInternalServerError, "```python\nfixed\n```")
	c := newStubClient(srv.URL, 2)

	code, err := c.Rewrite(context.Background(), "broken", "Python")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if code != "fixed\n" {
		t.Errorf("rewritten code = %q", code)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want a retry after the 500", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	srv, calls := llmStub(t, 10, http.StatusBadRequest, "")
	c := newStubClient(srv.URL, 3)

	if _, err := c.Review(context.Background(), "x", "Python", nil); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, a 400 must not be retried", calls.Load())
	}
}
