package ghauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"patchwork-bot/internal/config"
	"patchwork-bot/internal/metrics"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v84/github"
	"golang.org/x/sync/singleflight"
)

// ErrAppNotConfigured is returned when GitHub App credentials (app id and
// private key) are missing. Not retryable.
var ErrAppNotConfigured = errors.New("github app credentials not configured")

// ExchangeError indicates the platform rejected or failed a token exchange.
// The cached entry is invalidated so the next call retries.
type ExchangeError struct {
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("installation token exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// AccessToken is a short-lived installation-scoped credential.
// Held in process memory only, never persisted.
type AccessToken struct {
	InstallationID int64
	Token          string
	ExpiresAt      time.Time
}

// exchanger performs the actual token exchange against the platform.
// Injectable for testing.
type exchanger interface {
	createToken(ctx context.Context, installationID int64) (AccessToken, error)
}

// TokenManager caches one installation access token per installation id.
// Concurrent refreshes for the same installation are collapsed to a single
// in-flight exchange; all callers share the resulting token or failure.
type TokenManager struct {
	exch exchanger
	skew time.Duration

	mu    sync.RWMutex
	cache map[int64]AccessToken
	group singleflight.Group
}

// NewTokenManager builds a manager from GitHub App credentials. When the app
// id or private key path is missing, the manager is still constructed but
// every Token call fails with ErrAppNotConfigured.
func NewTokenManager(cfg config.GitHubConfig) (*TokenManager, error) {
	m := &TokenManager{
		skew:  cfg.TokenSkew,
		cache: make(map[int64]AccessToken),
	}
	if m.skew <= 0 {
		m.skew = time.Minute
	}

	if cfg.AppID == 0 || cfg.PrivateKeyPath == "" {
		return m, nil
	}

	// The apps transport signs a short-lived JWT assertion (issuer = app id,
	// expiry <= 10 minutes) on every request it authenticates.
	atr, err := ghinstallation.NewAppsTransportKeyFromFile(http.DefaultTransport, cfg.AppID, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load app private key: %w", err)
	}

	apps := github.NewClient(&http.Client{
		Transport: atr,
		Timeout:   cfg.RequestTimeout,
	})
	if cfg.APIBaseURL != "" {
		atr.BaseURL = cfg.APIBaseURL
		apps, err = apps.WithEnterpriseURLs(cfg.APIBaseURL, cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("configure enterprise base url: %w", err)
		}
	}

	m.exch = &appsExchanger{apps: apps}
	return m, nil
}

// Token returns a valid installation access token, reusing the cached one
// while it has at least the skew margin of validity left.
func (m *TokenManager) Token(ctx context.Context, installationID int64) (AccessToken, error) {
	if m.exch == nil {
		return AccessToken{}, ErrAppNotConfigured
	}

	if tok, ok := m.cached(installationID); ok {
		return tok, nil
	}

	// Collapse concurrent refreshes for the same installation.
	val, err, _ := m.group.Do(strconv.FormatInt(installationID, 10), func() (interface{}, error) {
		// Another caller may have just finished the refresh.
		if tok, ok := m.cached(installationID); ok {
			return tok, nil
		}

		tok, err := m.exch.createToken(ctx, installationID)
		if err != nil {
			metrics.TokenExchanges.WithLabelValues("error").Inc()
			return AccessToken{}, err
		}
		metrics.TokenExchanges.WithLabelValues("success").Inc()
		slog.Debug("installation token exchanged",
			"installation_id", installationID,
			"expires_at", tok.ExpiresAt)

		m.mu.Lock()
		m.cache[installationID] = tok
		m.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return AccessToken{}, err
	}
	return val.(AccessToken), nil
}

// Invalidate drops the cached token for an installation, typically after a
// downstream call came back with an authorization failure.
func (m *TokenManager) Invalidate(installationID int64) {
	m.mu.Lock()
	delete(m.cache, installationID)
	m.mu.Unlock()
}

func (m *TokenManager) cached(installationID int64) (AccessToken, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.cache[installationID]
	if !ok || !time.Now().Add(m.skew).Before(tok.ExpiresAt) {
		return AccessToken{}, false
	}
	return tok, true
}

// appsExchanger exchanges the app's JWT assertion for an installation token.
type appsExchanger struct {
	apps *github.Client
}

func (e *appsExchanger) createToken(ctx context.Context, installationID int64) (AccessToken, error) {
	tok, _, err := e.apps.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return AccessToken{}, &ExchangeError{Err: err}
	}
	return AccessToken{
		InstallationID: installationID,
		Token:          tok.GetToken(),
		ExpiresAt:      tok.GetExpiresAt().Time,
	}, nil
}
