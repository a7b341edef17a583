package artifact

import "errors"

var (
	ErrInvalidKey    = errors.New("invalid artifact key")
	ErrNotFound      = errors.New("artifact not found")
	ErrInvalidConfig = errors.New("invalid artifact storage configuration")
	ErrUnknownDriver = errors.New("unknown artifact storage driver")

	ErrFailedToWrite  = errors.New("failed to write artifact")
	ErrFailedToDelete = errors.New("failed to delete artifact")
	ErrFailedToList   = errors.New("failed to list artifacts")

	// S3 specific classification
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
	ErrOperationTimeout   = errors.New("operation timed out")
	ErrOperationCanceled  = errors.New("operation canceled")
	ErrFailedToLoadConfig = errors.New("failed to load AWS config")
)
