// Package manifest fetches and parses the feed manifest, the publisher-hosted
// text file listing the latest translation archives. Each line carries the
// archive size, its MD5 and its download URL.
package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/internal/dcontext"
)

// ClientOptions shape the transport retry policy applied to manifest and
// archive requests. Zero values fall back to the library defaults.
type ClientOptions struct {
	// Timeout bounds each request end to end, connect and read included.
	Timeout time.Duration

	// RetryWaitMin is the backoff floor between attempts.
	RetryWaitMin time.Duration

	// RetryWaitMax caps the backoff between attempts.
	RetryWaitMax time.Duration

	// RetryMax is the number of retries after the initial attempt.
	RetryMax int
}

// Client fetches the manifest body over a retrying HTTP transport.
type Client struct {
	url  string
	http *http.Client
}

// NewClient builds a manifest client for the given URL. The same underlying
// HTTP client is shared with archive downloads via HTTPClient.
func NewClient(url string, opts ClientOptions) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.RetryMax > 0 {
		rc.RetryMax = opts.RetryMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}

	return &Client{
		url:  url,
		http: rc.StandardClient(),
	}
}

// URL returns the manifest endpoint the client polls.
func (c *Client) URL() string {
	return c.url
}

// HTTPClient exposes the retrying transport for archive downloads, so both
// request kinds share one policy.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Fetch returns the manifest body. Transport retries happen underneath;
// an error here means the policy was exhausted.
func (c *Client) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching manifest %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching manifest %s: unexpected status %s", c.url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading manifest body: %w", err)
	}

	return string(body), nil
}

// Parse splits a manifest body into archive descriptors. Lines are
// whitespace-tokenized as <sizeBytes> <md5Hex> <url>; anything with fewer
// than three tokens or a non-numeric size is counted as malformed and
// skipped with a log line. The archive file name is the URL tail after the
// last slash.
func Parse(ctx context.Context, body string) []gdelt.ArchiveDescriptor {
	var (
		descriptors []gdelt.ArchiveDescriptor
		malformed   int
	)

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		if len(tokens) < 3 {
			malformed++
			continue
		}

		size, err := strconv.ParseInt(tokens[0], 10, 64)
		if err != nil {
			malformed++
			continue
		}

		url := tokens[2]
		fileName := url
		if i := strings.LastIndex(url, "/"); i >= 0 {
			fileName = url[i+1:]
		}

		descriptors = append(descriptors, gdelt.ArchiveDescriptor{
			FileName:     fileName,
			URL:          url,
			ExpectedHash: strings.ToLower(tokens[1]),
			SizeBytes:    size,
		})
	}

	if malformed > 0 {
		dcontext.GetLogger(ctx).Warnf("manifest: skipped %d malformed line(s)", malformed)
	}

	return descriptors
}
