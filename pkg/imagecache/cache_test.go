// Copyright 2024-2026 Aiku AI

package imagecache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/geluk/matrix-webhook-gateway/pkg/cachecontrol"
)

// memoryRepo is an in-memory Repository.
type memoryRepo struct {
	mu      sync.Mutex
	entries map[string]*Entry
	updates int
	adds    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[string]*Entry)}
}

func (r *memoryRepo) FindByURL(_ context.Context, url string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[HashString(url)]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (r *memoryRepo) AddOrUpdate(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries[entry.URLHash] = &cp
	r.adds++
	return nil
}

func (r *memoryRepo) UpdateCacheDetails(_ context.Context, urlHash string, details *cachecontrol.Details) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[urlHash]
	if !ok {
		return errors.New("no such entry")
	}
	entry.Details = details
	r.updates++
	return nil
}

func (r *memoryRepo) get(url string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[HashString(url)]
}

// scriptedDownloader returns a fixed response and records what it was asked.
type scriptedDownloader struct {
	mu       sync.Mutex
	resp     *Response
	err      error
	lastSeen *cachecontrol.Details
	calls    int
}

func (d *scriptedDownloader) Download(_ context.Context, _ string, details *cachecontrol.Details) (*Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.lastSeen = details
	return d.resp, d.err
}

// mockUploader hands out sequential content URIs.
type mockUploader struct {
	mu        sync.Mutex
	uploads   []string
	filenames []string
	err       error
}

func (u *mockUploader) UploadContent(_ context.Context, data []byte, _, filename string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.uploads = append(u.uploads, string(data))
	u.filenames = append(u.filenames, filename)
	return "mxc://example.org/" + string(rune('a'+len(u.uploads)-1)), nil
}

const imageURL = "https://example.com/avatar.png"

func newTestCache(repo *memoryRepo, dl *scriptedDownloader, up *mockUploader) *Cache {
	return New(repo, dl, up, zerolog.Nop())
}

func okResponse(data string) *Response {
	return &Response{
		Status:          StatusOK,
		Data:            []byte(data),
		ContentType:     "image/png",
		RevalidateAfter: time.Now().Add(time.Hour),
		ETag:            `"v1"`,
	}
}

func seed(repo *memoryRepo, data string) {
	repo.entries[HashString(imageURL)] = &Entry{
		URLHash:     HashString(imageURL),
		OriginalURL: imageURL,
		HostedRef:   "mxc://example.org/existing",
		ContentHash: Hash([]byte(data)),
		Details:     &cachecontrol.Details{ETag: `"v0"`, RevalidateAfter: time.Now().Add(-time.Minute)},
	}
}

func TestResolveNewImage(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	dl := &scriptedDownloader{resp: okResponse("png-bytes")}
	up := &mockUploader{}
	cache := newTestCache(repo, dl, up)

	uri, err := cache.Resolve(context.Background(), imageURL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if uri != "mxc://example.org/a" {
		t.Errorf("uri: got %q", uri)
	}
	if dl.lastSeen != nil {
		t.Errorf("first download should carry no cache details, got %+v", dl.lastSeen)
	}
	entry := repo.get(imageURL)
	if entry == nil {
		t.Fatal("entry was not stored")
	}
	if entry.ContentHash != Hash([]byte("png-bytes")) {
		t.Errorf("ContentHash: got %q", entry.ContentHash)
	}
	if entry.HostedRef != uri || entry.OriginalURL != imageURL {
		t.Errorf("entry: got %+v", entry)
	}
	if entry.Details == nil || entry.Details.ETag != `"v1"` {
		t.Errorf("Details: got %+v", entry.Details)
	}
	if len(up.filenames) != 1 || !strings.HasPrefix(up.filenames[0], "webhook-gateway-upload-") ||
		!strings.HasSuffix(up.filenames[0], ".png") {
		t.Errorf("filename: got %v", up.filenames)
	}
	if name := up.filenames[0]; len(name) != len("webhook-gateway-upload-")+40+len(".png") {
		t.Errorf("filename should carry 40 random characters, got %q", name)
	}
}

func TestResolveFresh(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	seed(repo, "old")
	dl := &scriptedDownloader{resp: &Response{Status: StatusFresh}}
	up := &mockUploader{}

	uri, err := newTestCache(repo, dl, up).Resolve(context.Background(), imageURL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if uri != "mxc://example.org/existing" {
		t.Errorf("uri: got %q", uri)
	}
	if dl.lastSeen == nil || dl.lastSeen.ETag != `"v0"` {
		t.Errorf("downloader should receive stored details, got %+v", dl.lastSeen)
	}
	if len(up.uploads) != 0 || repo.adds != 0 || repo.updates != 0 {
		t.Error("fresh image should not be uploaded or rewritten")
	}
}

func TestResolveNotModified(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	seed(repo, "old")
	next := time.Now().Add(2 * time.Hour)
	dl := &scriptedDownloader{resp: &Response{Status: StatusNotModified, RevalidateAfter: next, ETag: `"v0"`}}
	up := &mockUploader{}

	uri, err := newTestCache(repo, dl, up).Resolve(context.Background(), imageURL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if uri != "mxc://example.org/existing" {
		t.Errorf("uri: got %q", uri)
	}
	if repo.updates != 1 || !repo.get(imageURL).Details.RevalidateAfter.Equal(next) {
		t.Errorf("cache details should be refreshed, got %+v", repo.get(imageURL).Details)
	}
	if len(up.uploads) != 0 {
		t.Error("not-modified image should not be uploaded")
	}
}

func TestResolveUnexpectedNotModified(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	dl := &scriptedDownloader{resp: &Response{Status: StatusNotModified}}
	_, err := newTestCache(repo, dl, &mockUploader{}).Resolve(context.Background(), imageURL)
	if !errors.Is(err, ErrUnresolvable) {
		t.Errorf("error: got %v, want ErrUnresolvable", err)
	}
}

func TestResolveUnchangedContent(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	seed(repo, "same")
	dl := &scriptedDownloader{resp: okResponse("same")}
	up := &mockUploader{}

	uri, err := newTestCache(repo, dl, up).Resolve(context.Background(), imageURL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if uri != "mxc://example.org/existing" {
		t.Errorf("uri: got %q", uri)
	}
	if len(up.uploads) != 0 {
		t.Error("unchanged content should not be uploaded again")
	}
	if repo.updates != 1 || repo.get(imageURL).Details.ETag != `"v1"` {
		t.Errorf("cache details should be refreshed, got %+v", repo.get(imageURL).Details)
	}
}

func TestResolveChangedContent(t *testing.T) {
	t.Parallel()
	repo := newMemoryRepo()
	seed(repo, "old")
	dl := &scriptedDownloader{resp: okResponse("new")}
	up := &mockUploader{}

	uri, err := newTestCache(repo, dl, up).Resolve(context.Background(), imageURL)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if uri != "mxc://example.org/a" {
		t.Errorf("uri: got %q", uri)
	}
	entry := repo.get(imageURL)
	if entry.HostedRef != uri || entry.ContentHash != Hash([]byte("new")) {
		t.Errorf("entry should point at the new upload, got %+v", entry)
	}
	if len(repo.entries) != 1 {
		t.Errorf("entry should be replaced in place, got %d entries", len(repo.entries))
	}
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		dl      *scriptedDownloader
		up      *mockUploader
		wantErr error
	}{
		{"transport error", &scriptedDownloader{err: ErrDownload}, &mockUploader{}, ErrDownload},
		{"http error", &scriptedDownloader{resp: &Response{Status: StatusError, StatusCode: 404}}, &mockUploader{}, ErrDownload},
		{"no content type", &scriptedDownloader{resp: &Response{Status: StatusOK, Data: []byte("x")}}, &mockUploader{}, ErrContentType},
		{"upload error", &scriptedDownloader{resp: okResponse("x")}, &mockUploader{err: errors.New("boom")}, ErrUpload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := newMemoryRepo()
			uri, err := newTestCache(repo, tt.dl, tt.up).Resolve(context.Background(), imageURL)
			if uri != "" {
				t.Errorf("uri: got %q, want empty", uri)
			}
			if !errors.Is(err, ErrUnresolvable) || !errors.Is(err, tt.wantErr) {
				t.Errorf("error: got %v, want %v wrapped in ErrUnresolvable", err, tt.wantErr)
			}
			if len(repo.entries) != 0 {
				t.Error("failed resolve should not store an entry")
			}
		})
	}
}

func TestHash(t *testing.T) {
	t.Parallel()
	// echo -n "" | sha256sum | xxd -r -p | base64
	if got := Hash(nil); got != "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=" {
		t.Errorf("Hash(nil): got %q", got)
	}
	if HashString("a") != Hash([]byte("a")) {
		t.Error("HashString should match Hash")
	}
}
