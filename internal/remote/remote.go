// Package remote verifies access to the hosted repository through its REST API.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConnectionError reports that the repository API could not be reached or
// rejected the credentials. It is fatal at startup.
type ConnectionError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to reach %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to validate credentials against %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Checker verifies that the configured credentials can read the repository
type Checker interface {
	CheckAccess(ctx context.Context) error
}

// Client talks to a GitHub compatible REST API
type Client struct {
	baseURL    string
	repository string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for repository ("owner/name") at baseURL
func NewClient(baseURL, repository, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		repository: repository,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RepositoryURL returns the repository-info endpoint
func (c *Client) RepositoryURL() string {
	return c.baseURL + "/repos/" + c.repository
}

// CheckAccess performs a GET against the repository endpoint. Anything other
// than 200 OK is reported as a *ConnectionError.
func (c *Client) CheckAccess(ctx context.Context) error {
	url := c.RepositoryURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ConnectionError{URL: url, Err: err}
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "gitsyncd")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ConnectionError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return &ConnectionError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}
