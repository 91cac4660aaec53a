// Copyright 2024-2026 Aiku AI

package imagecache

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.mau.fi/util/exhttp"

	"github.com/geluk/matrix-webhook-gateway/pkg/cachecontrol"
)

// Status is the outcome of a download attempt.
type Status int

const (
	// StatusFresh means the cached copy is still fresh and no request was made.
	StatusFresh Status = iota
	// StatusOK means new content was downloaded.
	StatusOK
	// StatusNotModified means the origin confirmed the cached copy with a 304.
	StatusNotModified
	// StatusError means the origin answered with a non-success status.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusOK:
		return "ok"
	case StatusNotModified:
		return "not-modified"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Response describes the result of a download. Which fields are set depends
// on Status.
type Response struct {
	Status          Status
	Data            []byte
	ContentType     string
	RevalidateAfter time.Time
	ETag            string
	StatusCode      int
}

// Details returns the cache validators carried by the response.
func (r *Response) Details() *cachecontrol.Details {
	return &cachecontrol.Details{ETag: r.ETag, RevalidateAfter: r.RevalidateAfter}
}

// Downloader fetches a URL, revalidating against stored cache details.
type Downloader interface {
	Download(ctx context.Context, url string, details *cachecontrol.Details) (*Response, error)
}

// DefaultMaxSize caps image downloads.
const DefaultMaxSize = 16 << 20

// HTTPDownloader is a Downloader backed by net/http.
type HTTPDownloader struct {
	Client    *http.Client
	UserAgent string
	MaxSize   int64
	Now       func() time.Time
}

var _ Downloader = (*HTTPDownloader)(nil)

// NewHTTPDownloader creates a downloader whose requests give up after timeout.
func NewHTTPDownloader(timeout time.Duration, userAgent string) *HTTPDownloader {
	return &HTTPDownloader{
		Client:    exhttp.SensibleClientSettings.WithGlobalTimeout(timeout).Compile(),
		UserAgent: userAgent,
		MaxSize:   DefaultMaxSize,
		Now:       time.Now,
	}
}

// Download implements Downloader. Transport failures are returned as errors,
// HTTP error statuses as a StatusError response.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string, details *cachecontrol.Details) (*Response, error) {
	now := d.Now()
	if details.IsFresh(now) {
		return &Response{Status: StatusFresh}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	req.Header.Set("User-Agent", d.UserAgent)
	if details != nil && details.ETag != "" {
		req.Header.Set("If-None-Match", details.ETag)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()

	revalidateAfter := cachecontrol.Parse(resp.Header.Get("Cache-Control"), now)
	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Response{
			Status:          StatusNotModified,
			RevalidateAfter: revalidateAfter,
			ETag:            resp.Header.Get("ETag"),
		}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &Response{Status: StatusError, StatusCode: resp.StatusCode}, nil
	}

	maxSize := d.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %w", ErrDownload, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrDownload, maxSize)
	}
	return &Response{
		Status:          StatusOK,
		Data:            data,
		ContentType:     determineContentType(resp.Header.Get("Content-Type"), rawURL),
		RevalidateAfter: revalidateAfter,
		ETag:            resp.Header.Get("ETag"),
		StatusCode:      resp.StatusCode,
	}, nil
}

// determineContentType falls back to the extension of the URL path when the
// origin sends no Content-Type.
func determineContentType(header, rawURL string) string {
	if header != "" {
		return header
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return mime.TypeByExtension(path.Ext(parsed.Path))
}
