package writer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"cryptoledger/config"
	"cryptoledger/logger"
)

const gcsName = "gcs"

// GCSUploader writes exported files into a Cloud Storage bucket.
type GCSUploader struct {
	bucket    string
	newWriter func(ctx context.Context, bucket, object string) io.WriteCloser
	client    *storage.Client
}

func NewGCSUploader(ctx context.Context, cfg config.GCSConfig) (*GCSUploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	logger.GetLogger().WithComponent("gcs_uploader").WithFields(logger.Fields{
		"bucket":  cfg.Bucket,
		"project": cfg.ProjectID,
	}).Info("gcs uploader initialized")

	return &GCSUploader{
		bucket: cfg.Bucket,
		client: client,
		newWriter: func(ctx context.Context, bucket, object string) io.WriteCloser {
			return client.Bucket(bucket).Object(object).NewWriter(ctx)
		},
	}, nil
}

func (u *GCSUploader) Name() string { return gcsName }

func (u *GCSUploader) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := u.newWriter(ctx, u.bucket, key)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Close releases the underlying storage client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}
