package ghauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"patchwork-bot/internal/config"
)

// fakeExchanger counts exchange calls and returns a canned token or error.
type fakeExchanger struct {
	calls int64
	delay time.Duration
	err   error
	ttl   time.Duration
}

func (f *fakeExchanger) createToken(ctx context.Context, installationID int64) (AccessToken, error) {
	n := atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return AccessToken{}, f.err
	}
	ttl := f.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	return AccessToken{
		InstallationID: installationID,
		Token:          "tok-" + string(rune('a'+n-1)),
		ExpiresAt:      time.Now().Add(ttl),
	}, nil
}

func newTestManager(exch exchanger) *TokenManager {
	return &TokenManager{
		exch:  exch,
		skew:  time.Minute,
		cache: make(map[int64]AccessToken),
	}
}

func TestTokenNotConfigured(t *testing.T) {
	m, err := NewTokenManager(config.GitHubConfig{})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	if _, err := m.Token(context.Background(), 1); !errors.Is(err, ErrAppNotConfigured) {
		t.Errorf("expected ErrAppNotConfigured, got %v", err)
	}
}

func TestTokenCacheHit(t *testing.T) {
	fake := &fakeExchanger{}
	m := newTestManager(fake)

	first, err := m.Token(context.Background(), 42)
	if err != nil {
		t.Fatalf("first Token: %v", err)
	}
	second, err := m.Token(context.Background(), 42)
	if err != nil {
		t.Fatalf("second Token: %v", err)
	}

	if first.Token != second.Token {
		t.Errorf("expected cached token, got %q then %q", first.Token, second.Token)
	}
	if n := atomic.LoadInt64(&fake.calls); n != 1 {
		t.Errorf("expected 1 exchange, got %d", n)
	}
}

func TestTokenSingleFlight(t *testing.T) {
	fake := &fakeExchanger{delay: 20 * time.Millisecond}
	m := newTestManager(fake)

	const n = 25
	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Token(context.Background(), 7)
			if err != nil {
				t.Errorf("Token: %v", err)
				return
			}
			tokens[i] = tok.Token
		}(i)
	}
	wg.Wait()

	if calls := atomic.LoadInt64(&fake.calls); calls != 1 {
		t.Errorf("expected exactly 1 exchange for a cold-cache burst, got %d", calls)
	}
	for i := 1; i < n; i++ {
		if tokens[i] != tokens[0] {
			t.Errorf("caller %d got token %q, want %q", i, tokens[i], tokens[0])
		}
	}
}

func TestTokenRefreshOnExpiry(t *testing.T) {
	fake := &fakeExchanger{ttl: 30 * time.Second} // below the 1m skew margin
	m := newTestManager(fake)

	if _, err := m.Token(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Token(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt64(&fake.calls); n != 2 {
		t.Errorf("expected near-expired token to be refreshed, got %d exchanges", n)
	}
}

func TestTokenExchangeFailureShared(t *testing.T) {
	wantErr := &ExchangeError{Err: errors.New("upstream said no")}
	fake := &fakeExchanger{err: wantErr, delay: 10 * time.Millisecond}
	m := newTestManager(fake)

	var wg sync.WaitGroup
	errsCh := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Token(context.Background(), 9)
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	for err := range errsCh {
		var exErr *ExchangeError
		if !errors.As(err, &exErr) {
			t.Errorf("expected ExchangeError, got %v", err)
		}
	}
	if calls := atomic.LoadInt64(&fake.calls); calls != 1 {
		t.Errorf("expected failure to be shared by one in-flight exchange, got %d", calls)
	}
}

func TestInvalidate(t *testing.T) {
	fake := &fakeExchanger{}
	m := newTestManager(fake)

	if _, err := m.Token(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	m.Invalidate(3)
	if _, err := m.Token(context.Background(), 3); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt64(&fake.calls); n != 2 {
		t.Errorf("expected invalidation to force a new exchange, got %d", n)
	}
}
