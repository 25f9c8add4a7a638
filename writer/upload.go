package writer

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cryptoledger/config"
	"cryptoledger/logger"
	"cryptoledger/models"
)

// Uploader copies an exported file to remote object storage.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, key, localPath string) error
}

// ObjectKey builds a partitioned object key for an exported file:
// <prefix>/transaction=<type>/run_date=<yyyy-mm-dd>/<file>.
func ObjectKey(prefix string, t models.TransactionType, runAt time.Time, localPath string) string {
	parts := []string{
		fmt.Sprintf("transaction=%s", t),
		fmt.Sprintf("run_date=%s", runAt.UTC().Format("2006-01-02")),
		filepath.Base(localPath),
	}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append([]string{p}, parts...)
	}
	return path.Join(parts...)
}

// NewUploaders builds an uploader for every enabled storage backend.
func NewUploaders(ctx context.Context, cfg config.StorageConfig) ([]Uploader, error) {
	var uploaders []Uploader
	if cfg.S3.Enabled {
		u, err := NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	if cfg.GCS.Enabled {
		u, err := NewGCSUploader(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	return uploaders, nil
}

// prefixFor returns the configured key prefix of a named backend.
func prefixFor(cfg config.StorageConfig, name string) string {
	switch name {
	case s3Name:
		return cfg.S3.Prefix
	case gcsName:
		return cfg.GCS.Prefix
	}
	return ""
}

// UploadAll pushes files to every uploader and returns the number of failed
// uploads with the first error seen.
func UploadAll(ctx context.Context, uploaders []Uploader, cfg config.StorageConfig, t models.TransactionType, runAt time.Time, files []ExportedFile) (int, error) {
	log := logger.GetLogger().WithComponent("uploader")

	failed := 0
	var firstErr error
	for _, u := range uploaders {
		for _, f := range files {
			key := ObjectKey(prefixFor(cfg, u.Name()), t, runAt, f.Path)
			start := time.Now()
			if err := u.Upload(ctx, key, f.Path); err != nil {
				failed++
				if firstErr == nil {
					firstErr = fmt.Errorf("%s upload of %s: %w", u.Name(), f.Path, err)
				}
				log.WithFields(logger.Fields{"backend": u.Name(), "key": key}).WithError(err).Warn("upload failed")
				continue
			}
			logger.LogPerformanceEntry(log, "uploader", "upload_"+u.Name(), time.Since(start), logger.Fields{
				"key":  key,
				"size": f.Size,
			})
			log.WithFields(logger.Fields{"backend": u.Name(), "key": key, "size": f.Size}).Info("export uploaded")
		}
	}
	return failed, firstErr
}
