package core

import (
	"context"
	"path/filepath"
	"testing"

	blobcore "herbtrace/internal/blob/core"
	ledgermem "herbtrace/internal/infra/ledger/memory"
	"herbtrace/internal/infra/ledger/sqlite"
)

func TestOpenRecordStoreMemory(t *testing.T) {
	t.Setenv("HERBTRACE_STORAGE_DRIVER", "memory")
	store, err := OpenRecordStore()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*ledgermem.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenRecordStoreSQLite(t *testing.T) {
	t.Setenv("HERBTRACE_STORAGE_DRIVER", "sqlite")
	t.Setenv("HERBTRACE_SQLITE_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	store, err := OpenRecordStore()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	_ = s.Close()
}

func TestOpenRecordStoreUnknownDriver(t *testing.T) {
	t.Setenv("HERBTRACE_STORAGE_DRIVER", "etcd")
	if _, err := OpenRecordStore(); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenBlobStoreSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("HERBTRACE_BLOB_DRIVER", "memory")
	store, err := OpenBlobStore(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if store.Driver() != blobcore.DriverMemory {
		t.Fatalf("driver: %s", store.Driver())
	}

	t.Setenv("HERBTRACE_BLOB_DRIVER", "fs")
	t.Setenv("HERBTRACE_BLOB_FS_ROOT", t.TempDir())
	store, err = OpenBlobStore(ctx)
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != blobcore.DriverFilesystem {
		t.Fatalf("driver: %s", store.Driver())
	}

	t.Setenv("HERBTRACE_BLOB_DRIVER", "gcs")
	if _, err := OpenBlobStore(ctx); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
