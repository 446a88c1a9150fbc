// Package storage publishes finished exports and builds their share links.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/skip2/go-qrcode"

	"github.com/ivlev/slideshow/internal/config"
	"github.com/ivlev/slideshow/internal/logger"
	"github.com/ivlev/slideshow/internal/video"
)

// Publisher makes an artifact reachable and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, a video.Artifact) (string, error)
}

// LocalPublisher serves artifacts from the output directory over HTTP.
type LocalPublisher struct {
	BaseURL string // e.g. http://localhost:8080, empty for relative links
}

func (p LocalPublisher) Publish(_ context.Context, a video.Artifact) (string, error) {
	return strings.TrimSuffix(p.BaseURL, "/") + "/artifacts/" + url.PathEscape(a.Name), nil
}

// MinioPublisher uploads artifacts to a bucket and hands out presigned links.
type MinioPublisher struct {
	client *minio.Client
	bucket string
	region string
	expiry time.Duration
}

func NewMinio(cfg config.StorageConfig) (*MinioPublisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &MinioPublisher{client: client, bucket: cfg.Bucket, region: cfg.Region, expiry: expiry}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (p *MinioPublisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}
	logger.Info("bucket created", logger.String("bucket", p.bucket))
	return nil
}

func (p *MinioPublisher) Publish(ctx context.Context, a video.Artifact) (string, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	opts := minio.PutObjectOptions{ContentType: contentType(a.Format)}
	if _, err := p.client.PutObject(ctx, p.bucket, objectName(a), f, info.Size(), opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", a.Name, err)
	}
	return p.PresignURL(ctx, objectName(a))
}

// PresignURL returns a time-limited download link for an uploaded object.
func (p *MinioPublisher) PresignURL(ctx context.Context, object string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(object)))
	u, err := p.client.PresignedGetObject(ctx, p.bucket, object, p.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", object, err)
	}
	return u.String(), nil
}

func objectName(a video.Artifact) string {
	return "exports/" + a.Name
}

func contentType(format string) string {
	if format == "webm" {
		return "video/webm"
	}
	return "video/mp4"
}

// WriteQR renders link as a PNG QR code at path.
func WriteQR(link, path string) error {
	if err := qrcode.WriteFile(link, qrcode.Medium, 256, path); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}
	return nil
}
