package manifest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"vvplay/internal/logger"
)

// Client fetches and parses manifests from an origin server. The underlying
// http.Client is shared with the segment fetch scheduler so the connection
// pool is reused.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
}

// NewClient creates a new manifest client.
func NewClient(log logger.Logger, userAgent string) *Client {
	transport := &http.Transport{
		ResponseHeaderTimeout: 3 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    log,
		userAgent: userAgent,
	}
}

// HttpClient returns the underlying http.Client instance.
func (c *Client) HttpClient() *http.Client {
	return c.httpClient
}

// Fetch retrieves the manifest from the given URL, following a single
// redirect, and parses it. Transient failures are retried the same way
// segment fetches are. Returns the parsed manifest and the final URL after
// any redirect, which segment addresses resolve against.
func (c *Client) Fetch(initialURL string) (*Manifest, string, error) {
	const maxAttempts = 3
	const retryDelay = 500 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		m, finalURL, err := c.fetchOnce(initialURL)
		if err == nil {
			return m, finalURL, nil
		}
		// Parse errors are fatal; retrying the same document won't help.
		var perr *ParseError
		if errors.As(err, &perr) {
			return nil, "", err
		}
		lastErr = err
		c.logger.Warnf("Manifest fetch attempt %d/%d failed: %v", attempt, maxAttempts, err)
		time.Sleep(retryDelay)
	}

	return nil, "", fmt.Errorf("failed to fetch manifest after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) fetchOnce(initialURL string) (*Manifest, string, error) {
	c.logger.Debugf("Fetching manifest from URL: %s", initialURL)

	req, err := http.NewRequest("GET", initialURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request for manifest: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch manifest from %s: %w", initialURL, err)
	}
	defer resp.Body.Close()

	finalURL := initialURL
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		location, err := resp.Location()
		if err != nil {
			return nil, "", fmt.Errorf("redirect location error: %w", err)
		}
		finalURL = location.String()
		c.logger.Debugf("Redirected to: %s", finalURL)

		req, err = http.NewRequest("GET", finalURL, nil)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create request for redirected manifest: %w", err)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch redirected manifest from %s: %w", finalURL, err)
		}
		defer resp.Body.Close()
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch manifest: received status code %d from %s", resp.StatusCode, finalURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read manifest response body: %w", err)
	}

	m, err := Parse(data, finalURL)
	if err != nil {
		c.logger.Errorf("Failed to parse manifest from %s: %v", finalURL, err)
		return nil, "", err
	}

	c.logger.Debugf("Successfully fetched and parsed manifest with %d representations from %s",
		len(m.reps), finalURL)
	return m, finalURL, nil
}
