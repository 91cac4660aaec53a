// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/geluk/matrix-webhook-gateway/pkg/cachecontrol"
	"github.com/geluk/matrix-webhook-gateway/pkg/imagecache"
)

// ImageCacheQuery implements imagecache.Repository.
type ImageCacheQuery struct {
	*dbutil.QueryHelper[*CachedImage]
}

var _ imagecache.Repository = (*ImageCacheQuery)(nil)

type CachedImage struct {
	qh *dbutil.QueryHelper[*CachedImage]

	imagecache.Entry
}

const (
	getCachedImageQuery = `
		SELECT url_hash, original_url, hosted_ref, last_retrieved, content_hash, cache_details
		FROM image_cache WHERE url_hash=$1
	`
	upsertCachedImageQuery = `
		INSERT INTO image_cache (url_hash, original_url, hosted_ref, last_retrieved, content_hash, cache_details)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url_hash) DO UPDATE
			SET original_url=excluded.original_url, hosted_ref=excluded.hosted_ref,
			    last_retrieved=excluded.last_retrieved, content_hash=excluded.content_hash,
			    cache_details=excluded.cache_details
	`
	updateCacheDetailsQuery = `UPDATE image_cache SET cache_details=$2, last_retrieved=$3 WHERE url_hash=$1`
)

// FindByURL looks the image up by the hash of its original URL.
func (icq *ImageCacheQuery) FindByURL(ctx context.Context, url string) (*imagecache.Entry, error) {
	img, err := icq.QueryOne(ctx, getCachedImageQuery, imagecache.HashString(url))
	if err != nil || img == nil {
		return nil, err
	}
	return &img.Entry, nil
}

func (icq *ImageCacheQuery) AddOrUpdate(ctx context.Context, entry *imagecache.Entry) error {
	details, err := entry.Details.Marshal()
	if err != nil {
		return err
	}
	return icq.Exec(ctx, upsertCachedImageQuery,
		entry.URLHash, entry.OriginalURL, entry.HostedRef, entry.LastRetrieved.UnixMilli(), entry.ContentHash, details)
}

func (icq *ImageCacheQuery) UpdateCacheDetails(ctx context.Context, urlHash string, details *cachecontrol.Details) error {
	raw, err := details.Marshal()
	if err != nil {
		return err
	}
	return icq.Exec(ctx, updateCacheDetailsQuery, urlHash, raw, time.Now().UnixMilli())
}

// Scan reads a row. Unreadable cache details are dropped with a warning,
// which makes the next lookup revalidate with the origin.
func (ci *CachedImage) Scan(row dbutil.Scannable) (*CachedImage, error) {
	var lastRetrieved int64
	var rawDetails string
	err := row.Scan(&ci.URLHash, &ci.OriginalURL, &ci.HostedRef, &lastRetrieved, &ci.ContentHash, &rawDetails)
	if err != nil {
		return nil, err
	}
	ci.LastRetrieved = time.UnixMilli(lastRetrieved)
	ci.Details, err = cachecontrol.Unmarshal(rawDetails)
	if err != nil {
		ci.qh.GetDB().Log.Warn("Failed to read cache details of image %s: %v", ci.URLHash, err)
		ci.Details = nil
	}
	return ci, nil
}
