package fetch

import (
	"fmt"
	"io"
	"net/http"

	"github.com/samirrijal/terragrid/internal/core/domain"
)

// DefaultUserAgent identifies the service to public tile and query servers.
const DefaultUserAgent = "terragrid/1.0 (+https://github.com/samirrijal/terragrid)"

// maxBody caps how much of a response is read.
const maxBody = 64 << 20

// Client sends one HTTP request and maps the response onto the error
// taxonomy the Runner understands.
type Client struct {
	HTTP      *http.Client
	UserAgent string

	// AbsentOn404 turns 404 into domain.ErrTileNotFound. Tile servers use
	// 404 for empty tiles; for query endpoints it is a hard failure.
	AbsentOn404 bool
}

// Do executes req. 2xx bodies are returned as is.
func (c *Client) Do(req *http.Request) ([]byte, error) {
	endpoint := req.URL.Redacted()
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	} else {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Endpoint: endpoint, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, &domain.TransportError{Endpoint: endpoint, Status: code, Retryable: true, Err: err}
		}
		return body, nil
	case code == http.StatusNotFound && c.AbsentOn404:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %w", endpoint, domain.ErrTileNotFound)
	case code == http.StatusTooManyRequests || code == http.StatusGatewayTimeout:
		return nil, &domain.TransportError{Endpoint: endpoint, Status: code, Retryable: true}
	default:
		return nil, &domain.TransportError{Endpoint: endpoint, Status: code}
	}
}
