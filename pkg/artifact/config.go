package artifact

import (
	"context"
	"fmt"
	"time"
)

// Drivers accepted by New
const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// Config selects and configures the artifact backend.
type Config struct {
	Driver         string        `env:"ARTIFACT_DRIVER" envDefault:"local"`          // Driver is "local" or "s3".
	LocalDir       string        `env:"ARTIFACT_LOCAL_DIR" envDefault:"./artifacts"` // LocalDir is the root of the local driver.
	BaseURL        string        `env:"ARTIFACT_BASE_URL"`                           // BaseURL prefixes public artifact URLs.
	Bucket         string        `env:"ARTIFACT_S3_BUCKET"`                          // Bucket holds artifacts for the s3 driver.
	Region         string        `env:"ARTIFACT_S3_REGION" envDefault:"us-east-1"`   // Region of the bucket.
	AccessKeyID    string        `env:"ARTIFACT_S3_ACCESS_KEY_ID"`                   // AccessKeyID for static credentials; empty uses the default chain.
	SecretKey      string        `env:"ARTIFACT_S3_SECRET_KEY"`                      // SecretKey for static credentials.
	Endpoint       string        `env:"ARTIFACT_S3_ENDPOINT"`                        // Endpoint for S3-compatible services.
	ForcePathStyle bool          `env:"ARTIFACT_S3_FORCE_PATH_STYLE"`                // ForcePathStyle is needed by MinIO and similar services.
	UploadTimeout  time.Duration `env:"ARTIFACT_UPLOAD_TIMEOUT" envDefault:"2m"`     // UploadTimeout bounds a single Put.
}

// New builds the storage selected by cfg.Driver
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", DriverLocal:
		return NewLocalStorage(cfg.LocalDir, cfg.BaseURL, WithLocalUploadTimeout(cfg.UploadTimeout))
	case DriverS3:
		return NewS3Storage(ctx, S3Config{
			Bucket:         cfg.Bucket,
			Region:         cfg.Region,
			AccessKeyID:    cfg.AccessKeyID,
			SecretKey:      cfg.SecretKey,
			Endpoint:       cfg.Endpoint,
			BaseURL:        cfg.BaseURL,
			ForcePathStyle: cfg.ForcePathStyle,
		}, WithS3UploadTimeout(cfg.UploadTimeout))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
