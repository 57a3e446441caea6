package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	domain "github.com/flowix-ar/storefront/internal/domain"
)

const defaultDownloadTTL = 15 * time.Minute

// Uploader writes an object to a bucket.
type Uploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// GCSUploader uploads through the Cloud Storage client.
type GCSUploader struct {
	client *storage.Client
}

// NewGCSUploader wraps a Cloud Storage client.
func NewGCSUploader(client *storage.Client) *GCSUploader {
	return &GCSUploader{client: client}
}

// Upload streams data into the object. Cancelling the context aborts a partial write.
func (u *GCSUploader) Upload(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if u == nil || u.client == nil {
		return errors.New("storage: client not configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := u.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.ContentDisposition = fmt.Sprintf("attachment; filename=%q", path.Base(object))
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return nil
}

// ExportBucket stores generated exports and hands out short lived download links for them.
type ExportBucket struct {
	uploader Uploader
	signer   Signer
	bucket   string
	ttl      time.Duration
	clock    func() time.Time
}

// ExportOption customises ExportBucket.
type ExportOption func(*ExportBucket)

// WithDownloadTTL overrides how long signed download URLs stay valid.
func WithDownloadTTL(ttl time.Duration) ExportOption {
	return func(b *ExportBucket) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithClock overrides the clock used for URL expiry.
func WithClock(clock func() time.Time) ExportOption {
	return func(b *ExportBucket) {
		if clock != nil {
			b.clock = func() time.Time { return clock().UTC() }
		}
	}
}

// NewExportBucket validates its collaborators.
func NewExportBucket(uploader Uploader, signer Signer, bucket string, opts ...ExportOption) (*ExportBucket, error) {
	if uploader == nil {
		return nil, errors.New("storage: uploader is required")
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errors.New("storage: signer with service account email is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: exports bucket is required")
	}
	b := &ExportBucket{
		uploader: uploader,
		signer:   signer,
		bucket:   bucket,
		ttl:      defaultDownloadTTL,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Put uploads the export object.
func (b *ExportBucket) Put(ctx context.Context, object, contentType string, data []byte) error {
	if len(data) == 0 {
		return errors.New("storage: export is empty")
	}
	return b.uploader.Upload(ctx, b.bucket, object, contentType, data)
}

// SignedDownloadURL returns a V4 signed GET URL for object.
func (b *ExportBucket) SignedDownloadURL(ctx context.Context, object string) (domain.SignedURL, error) {
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if object == "" {
		return domain.SignedURL{}, errors.New("storage: object is required")
	}
	expires := b.clock().Add(b.ttl)
	opts := &storage.SignedURLOptions{
		GoogleAccessID: b.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return b.signer.SignBytes(ctx, payload)
		},
		QueryParameters: url.Values{
			"response-content-disposition": {fmt.Sprintf("attachment; filename=%q", path.Base(object))},
		},
	}
	signed, err := storage.SignedURL(b.bucket, object, opts)
	if err != nil {
		return domain.SignedURL{}, fmt.Errorf("storage: sign %s: %w", object, err)
	}
	return domain.SignedURL{URL: signed, Method: http.MethodGet, ExpiresAt: expires}, nil
}

// OrderExportPath names the object holding an order export generated at the given instant.
func OrderExportPath(storeID string, at time.Time) (string, error) {
	storeID, err := validateSegment("storeID", storeID)
	if err != nil {
		return "", err
	}
	if at.IsZero() {
		return "", errors.New("storage: export time is required")
	}
	return fmt.Sprintf("exports/%s/orders-%s.xlsx", storeID, at.UTC().Format("20060102T150405Z")), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
