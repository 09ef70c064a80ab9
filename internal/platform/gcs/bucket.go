package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

type BucketCategory string

const (
	// BucketCategoryClutch holds uploaded clutch photos and the consolidated
	// flock portrait.
	BucketCategoryClutch BucketCategory = "clutch"
	// BucketCategoryMedia holds generated per-egg artifacts (chick images,
	// chick audio, comfort songs).
	BucketCategoryMedia BucketCategory = "media"
)

type bucketConfig struct {
	name      string
	cdnDomain string
}

type BucketService interface {
	UploadFile(dbc dbctx.Context, category BucketCategory, key string, contentType string, file io.Reader) error
	DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error)
	DeleteFile(dbc dbctx.Context, category BucketCategory, key string) error
	ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error)
	// SignedUploadURL returns a short-lived write-only PUT URL scoped to one
	// key and content type. The server never proxies the upload bytes.
	SignedUploadURL(category BucketCategory, key string, contentType string, ttl time.Duration) (string, error)
	GetPublicURL(category BucketCategory, key string) string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	clutchBucket  bucketConfig
	mediaBucket   bucketConfig
	publicBaseURL string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	clutchBucketName := os.Getenv("CLUTCH_GCS_BUCKET_NAME")
	mediaBucketName := os.Getenv("MEDIA_GCS_BUCKET_NAME")
	if clutchBucketName == "" {
		return nil, fmt.Errorf("missing env var CLUTCH_GCS_BUCKET_NAME")
	}
	if mediaBucketName == "" {
		return nil, fmt.Errorf("missing env var MEDIA_GCS_BUCKET_NAME")
	}

	publicBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/")

	ctx := context.Background()
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info("Object storage initialized",
		"clutch_bucket", clutchBucketName,
		"media_bucket", mediaBucketName,
		"public_base_url", publicBaseURL,
	)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		clutchBucket: bucketConfig{
			name:      clutchBucketName,
			cdnDomain: os.Getenv("CLUTCH_CDN_DOMAIN"),
		},
		mediaBucket: bucketConfig{
			name:      mediaBucketName,
			cdnDomain: os.Getenv("MEDIA_CDN_DOMAIN"),
		},
		publicBaseURL: publicBaseURL,
	}, nil
}

func (bs *bucketService) getBucketConfig(category BucketCategory) (bucketConfig, error) {
	switch category {
	case BucketCategoryClutch:
		return bs.clutchBucket, nil
	case BucketCategoryMedia:
		return bs.mediaBucket, nil
	default:
		return bucketConfig{}, fmt.Errorf("unknown bucket category: %s", category)
	}
}

func (bs *bucketService) UploadFile(dbc dbctx.Context, category BucketCategory, key string, contentType string, file io.Reader) error {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(dbc.Ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(cfg.name).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (bs *bucketService) DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	r, err := bs.storageClient.Bucket(cfg.name).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %q in bucket %q: %w", key, cfg.name, err)
	}
	return r, nil
}

func (bs *bucketService) DeleteFile(dbc dbctx.Context, category BucketCategory, key string) error {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(dbc.Ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(cfg.name).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, cfg.name, err)
	}
	return nil
}

func (bs *bucketService) ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := bs.storageClient.Bucket(cfg.name).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (bs *bucketService) SignedUploadURL(category BucketCategory, key string, contentType string, ttl time.Duration) (string, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	url, err := bs.storageClient.Bucket(cfg.name).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      "PUT",
		Expires:     time.Now().Add(ttl),
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("sign upload url for %q: %w", key, err)
	}
	return url, nil
}

func (bs *bucketService) GetPublicURL(category BucketCategory, key string) string {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return key
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if cfg.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cfg.cdnDomain, key)
	}
	if bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", bs.publicBaseURL, cfg.name, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.name, key)
}

// ContentTypeForKey infers a content type from a storage key suffix.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".tif"), strings.HasSuffix(s, ".tiff"):
		return "image/tiff"
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}
