package core

import (
	"context"
	"fmt"
	"os"

	blobcore "herbtrace/internal/blob/core"
	blobfs "herbtrace/internal/infra/blob/fs"
	blobmem "herbtrace/internal/infra/blob/memory"
	blobs3 "herbtrace/internal/infra/blob/s3"
	ledgermem "herbtrace/internal/infra/ledger/memory"
	"herbtrace/internal/infra/ledger/postgres"
	"herbtrace/internal/infra/ledger/sqlite"
)

// StorageDriver identifies a concrete record store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenRecordStore selects a ledger backend using environment variables.
// Defaults to sqlite when unset.
//
//	HERBTRACE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	HERBTRACE_SQLITE_PATH: path to sqlite file (default ./herbtrace.db)
//	HERBTRACE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenRecordStore() (RecordStore, error) {
	driver := os.Getenv("HERBTRACE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return ledgermem.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("HERBTRACE_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("HERBTRACE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenBlobStore selects a blob backend using environment variables.
// Defaults to the filesystem driver.
//
//	HERBTRACE_BLOB_DRIVER: fs|memory|s3 (default fs)
//	HERBTRACE_BLOB_FS_ROOT: root directory for the fs driver
//	HERBTRACE_BLOB_S3_*: see the s3 package
func OpenBlobStore(ctx context.Context) (blobcore.Store, error) {
	driver := os.Getenv("HERBTRACE_BLOB_DRIVER")
	if driver == "" {
		driver = string(blobcore.DriverFilesystem)
	}
	switch blobcore.Driver(driver) {
	case blobcore.DriverFilesystem:
		return blobfs.New(os.Getenv("HERBTRACE_BLOB_FS_ROOT"))
	case blobcore.DriverMemory:
		return blobmem.New(), nil
	case blobcore.DriverS3:
		return blobs3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
