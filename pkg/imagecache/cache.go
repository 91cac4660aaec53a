// Copyright 2024-2026 Aiku AI

// Package imagecache re-hosts externally linked images on the homeserver
// and remembers the result, so an avatar referenced by every call of a busy
// hook is downloaded and uploaded only when its origin says it changed.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exmime"
	"go.mau.fi/util/random"

	"github.com/geluk/matrix-webhook-gateway/pkg/cachecontrol"
)

var (
	ErrDownload    = errors.New("download failed")
	ErrUpload      = errors.New("upload failed")
	ErrContentType = errors.New("unknown content type")
	// ErrUnresolvable wraps every failure of Cache.Resolve.
	ErrUnresolvable = errors.New("image could not be resolved")
)

// Entry is a cached image.
type Entry struct {
	URLHash       string
	OriginalURL   string
	HostedRef     string
	LastRetrieved time.Time
	ContentHash   string
	Details       *cachecontrol.Details
}

// Repository persists cache entries. Entries are keyed by [Hash] of the
// original URL.
type Repository interface {
	FindByURL(ctx context.Context, url string) (*Entry, error)
	AddOrUpdate(ctx context.Context, entry *Entry) error
	UpdateCacheDetails(ctx context.Context, urlHash string, details *cachecontrol.Details) error
}

// Uploader stores content on the homeserver and returns its mxc:// URI.
type Uploader interface {
	UploadContent(ctx context.Context, data []byte, contentType, filename string) (string, error)
}

// Hash returns the base64 encoded SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashString is Hash for strings.
func HashString(s string) string {
	return Hash([]byte(s))
}

const uploadPrefix = "webhook-gateway-upload-"

// Cache resolves image URLs to hosted content URIs.
type Cache struct {
	repo       Repository
	downloader Downloader
	uploader   Uploader
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a Cache.
func New(repo Repository, downloader Downloader, uploader Uploader, log zerolog.Logger) *Cache {
	return &Cache{
		repo:       repo,
		downloader: downloader,
		uploader:   uploader,
		log:        log.With().Str("component", "image_cache").Logger(),
		now:        time.Now,
	}
}

func unresolvable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnresolvable, err)
}

// Resolve returns the hosted URI for the image at url, downloading and
// uploading it only when the cached copy is missing, stale and changed.
func (c *Cache) Resolve(ctx context.Context, url string) (string, error) {
	log := c.log.With().Str("url", url).Logger()

	existing, err := c.repo.FindByURL(ctx, url)
	if err != nil {
		return "", unresolvable(fmt.Errorf("failed to look up cached image: %w", err))
	}
	var details *cachecontrol.Details
	if existing != nil {
		details = existing.Details
	}

	download, err := c.downloader.Download(ctx, url, details)
	if err != nil {
		log.Info().Err(err).Msg("Failed to download image")
		return "", unresolvable(err)
	}

	switch download.Status {
	case StatusFresh:
		if existing == nil {
			return "", unresolvable(errors.New("downloader reported a fresh copy that is not cached"))
		}
		log.Debug().Msg("Found fresh image in cache")
		return existing.HostedRef, nil
	case StatusError:
		log.Info().Int("status_code", download.StatusCode).Msg("Error response while downloading image")
		return "", unresolvable(fmt.Errorf("%w: HTTP %d", ErrDownload, download.StatusCode))
	case StatusNotModified:
		if existing == nil {
			log.Info().Msg("Received an unexpected 304 for an image that is not cached")
			return "", unresolvable(fmt.Errorf("%w: unexpected 304", ErrDownload))
		}
		log.Debug().Msg("Revalidated stale image in cache")
		if err = c.repo.UpdateCacheDetails(ctx, existing.URLHash, download.Details()); err != nil {
			return "", unresolvable(fmt.Errorf("failed to update cache details: %w", err))
		}
		return existing.HostedRef, nil
	}

	if download.ContentType == "" {
		log.Warn().Msg("Unable to upload image: could not determine content type")
		return "", unresolvable(ErrContentType)
	}

	contentHash := Hash(download.Data)
	if existing != nil && existing.ContentHash == contentHash {
		log.Debug().Msg("Image re-downloaded with unchanged content")
		if err = c.repo.UpdateCacheDetails(ctx, existing.URLHash, download.Details()); err != nil {
			return "", unresolvable(fmt.Errorf("failed to update cache details: %w", err))
		}
		return existing.HostedRef, nil
	}

	filename := uploadPrefix + random.String(40) + exmime.ExtensionFromMimetype(download.ContentType)
	hostedRef, err := c.uploader.UploadContent(ctx, download.Data, download.ContentType, filename)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upload image")
		return "", unresolvable(fmt.Errorf("%w: %w", ErrUpload, err))
	}

	entry := &Entry{
		URLHash:       HashString(url),
		OriginalURL:   url,
		HostedRef:     hostedRef,
		LastRetrieved: c.now(),
		ContentHash:   contentHash,
		Details:       download.Details(),
	}
	if existing != nil {
		entry.URLHash = existing.URLHash
		log.Debug().Str("hosted_ref", hostedRef).Msg("Updated existing image")
	} else {
		log.Debug().Str("hosted_ref", hostedRef).Msg("Downloaded new image")
	}
	if err = c.repo.AddOrUpdate(ctx, entry); err != nil {
		return "", unresolvable(fmt.Errorf("failed to store cached image: %w", err))
	}
	return hostedRef, nil
}
