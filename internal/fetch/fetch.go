// Package fetch implements the byte-stream fetcher the package manager
// pulls repository metadata and archives through.
//
// Two operations cover every caller: GetString for small metadata bodies
// and GetFile for package payloads. Payload downloads follow redirects,
// fail on non-200 responses and on empty bodies, and reuse cached files.
package fetch

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/LinkNavi/galactica/internal/logging"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrEmptyBody reports a 200 response whose body was empty. Mirrors treat
// these as failures so the next mirror gets a chance.
var ErrEmptyBody = errors.New("fetch: empty response body")

// Options configures a Client.
type Options struct {
	TLSVerify      bool
	MetaTimeout    time.Duration // GET-to-memory, default 30s
	FileTimeout    time.Duration // GET-to-file, default 5m
	ConnectTimeout time.Duration // default 30s
	Logger         *logging.Logger
}

// Client fetches repository metadata and package payloads.
type Client struct {
	meta *resty.Client
	file *retryablehttp.Client
	log  *logging.Logger
}

// New creates a fetcher. TLS verification is controlled by the caller and
// defaults on at the config layer.
func New(opts Options) *Client {
	if opts.MetaTimeout == 0 {
		opts.MetaTimeout = 30 * time.Second
	}
	if opts.FileTimeout == 0 {
		opts.FileTimeout = 5 * time.Minute
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault()
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.TLSVerify},
		DialContext:     (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
	}

	meta := resty.New().
		SetTimeout(opts.MetaTimeout).
		SetTransport(transport).
		SetHeader("User-Agent", "dreamland/1.0")

	file := retryablehttp.NewClient()
	file.RetryMax = 2
	file.RetryWaitMin = 1 * time.Second
	file.RetryWaitMax = 10 * time.Second
	file.Logger = nil
	file.HTTPClient.Timeout = opts.FileTimeout
	file.HTTPClient.Transport = transport

	return &Client{meta: meta, file: file, log: log}
}

// GetString fetches a small text resource into memory. Non-200 statuses
// are errors.
func (c *Client) GetString(url string) (string, error) {
	resp, err := c.meta.R().Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode())
	}
	return resp.String(), nil
}

// GetFile downloads a resource to path. An existing non-empty file at path
// is treated as a cache hit and left untouched. Partial downloads are
// removed so a later attempt starts clean.
func (c *Client) GetFile(url, path string) error {
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		c.log.Debug("using cached file", zap.String("path", path))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}

	resp, err := c.file.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if n == 0 {
		os.Remove(path)
		return fmt.Errorf("fetch %s: %w", url, ErrEmptyBody)
	}

	c.log.Debug("downloaded file",
		zap.String("url", url),
		zap.String("path", path),
		zap.Int64("bytes", n))
	return nil
}
