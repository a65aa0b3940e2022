// Package blob selects a blob storage backend from the environment.
package blob

import (
	"context"
	"fmt"
	"os"

	"graphsub/internal/infra/blob/core"
	"graphsub/internal/infra/blob/fs"
	"graphsub/internal/infra/blob/memory"
	"graphsub/internal/infra/blob/s3"
)

// Open selects a core.Store implementation using environment variables.
//
//	GRAPHSUB_BLOB_DRIVER: fs|s3|memory (default fs)
//	GRAPHSUB_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in s3/store.go)
func Open(ctx context.Context) (core.Store, error) {
	driver := os.Getenv("GRAPHSUB_BLOB_DRIVER")
	if driver == "" {
		driver = string(core.DriverFilesystem)
	}
	switch core.Driver(driver) {
	case core.DriverFilesystem:
		return fs.New(os.Getenv("GRAPHSUB_BLOB_FS_ROOT"))
	case core.DriverS3:
		return s3.OpenFromEnv(ctx)
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
