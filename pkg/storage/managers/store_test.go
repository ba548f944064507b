package managers

import (
	"context"
	"path/filepath"
	"testing"

	"selfpm/pkg/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenDB(storage.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "managers.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = storage.CloseDB(db) })
	store, err := New(db, "", true)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestUpsertAndGetManager(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.UpsertManager(ctx, storage.ManagerRecord{Provider: "GitHub", Username: "zoeself", AccessToken: "t1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertManager(ctx, storage.ManagerRecord{Provider: "github", Username: "zoeself", AccessToken: "t2"}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	record, err := store.GetManager(ctx, "github", "zoeself")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record == nil || record.AccessToken != "t2" {
		t.Fatalf("expected updated token, got %+v", record)
	}

	missing, err := store.GetManager(ctx, "gitlab", "zoeself")
	if err != nil || missing != nil {
		t.Fatalf("expected no gitlab manager, got %+v, %v", missing, err)
	}
}

func TestListManagers(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, record := range []storage.ManagerRecord{
		{Provider: "gitlab", Username: "zoe"},
		{Provider: "github", Username: "zoe"},
		{Provider: "github", Username: "amy"},
	} {
		if err := store.UpsertManager(ctx, record); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	all, err := store.ListManagers(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Username != "amy" {
		t.Fatalf("unexpected managers %+v", all)
	}
	github, err := store.ListManagers(ctx, "github")
	if err != nil {
		t.Fatalf("list github: %v", err)
	}
	if len(github) != 2 {
		t.Fatalf("expected 2 github managers, got %d", len(github))
	}
}

func TestUpsertManagerValidation(t *testing.T) {
	store := openStore(t)
	if err := store.UpsertManager(context.Background(), storage.ManagerRecord{Provider: "github"}); err == nil {
		t.Fatalf("expected error for missing username")
	}
}
