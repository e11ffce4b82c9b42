package ghapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v84/github"
)

// Client wraps an installation-token-authenticated GitHub REST client with the
// operations the engine needs: snapshot fetching, comment posting, and
// object-graph commit construction.
type Client struct {
	gh *github.Client
}

// NewClient builds a platform client for one installation token.
// baseURL overrides the API endpoint for GitHub Enterprise; empty = github.com.
func NewClient(token, baseURL string, timeout time.Duration) (*Client, error) {
	hc := &http.Client{Timeout: timeout}
	gh := github.NewClient(hc).WithAuthToken(token)

	if baseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configure enterprise base url: %w", err)
		}
	}

	return &Client{gh: gh}, nil
}
