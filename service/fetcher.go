package service

import (
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	DefaultFetchTimeout time.Duration = 30 * time.Second
	// responses bigger than this are rejected
	MaxFetchSize int64 = 32 * 1024 * 1024
)

// Fetcher retrieves raw bytes of a resource, e.g. a recipe list, an image or a recipe page
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is a Fetcher over HTTP GET
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a new HTTPFetcher
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch returns the body of a successful GET
func (fetcher *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	logger := log.WithFields(log.Fields{
		"package":  "service",
		"struct":   "HTTPFetcher",
		"function": "Fetch",
	})

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create request for %q: %w", url, err)
	}

	response, err := fetcher.client.Do(request)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch %q: %w", url, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, xerrors.Errorf("failed to fetch %q: unexpected status %s", url, response.Status)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, MaxFetchSize+1))
	if err != nil {
		return nil, xerrors.Errorf("failed to read response of %q: %w", url, err)
	}

	if int64(len(body)) > MaxFetchSize {
		return nil, xerrors.Errorf("response of %q exceeds %d bytes", url, MaxFetchSize)
	}

	logger.Debugf("fetched %d bytes from %q", len(body), url)
	return body, nil
}
