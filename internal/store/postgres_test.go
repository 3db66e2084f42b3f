package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/api/internal/state"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SCRIBE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SCRIBE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied")
	}

	again, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil || len(again) != 0 {
		t.Fatalf("second pass applied %v, %v", again, err)
	}

	downs, err := migrationFiles(migrationsDir, ".down.sql")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	for i := len(downs) - 1; i >= 0; i-- {
		contents, err := os.ReadFile(downs[i])
		if err != nil {
			t.Fatalf("read %s: %v", downs[i], err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			t.Fatalf("apply %s: %v", downs[i], err)
		}
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestPostgresKV(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	kv := NewPostgresKV(db)

	if _, err := kv.Get(ctx, "p1", state.KeyStats); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := kv.Set(ctx, "p1", state.KeyStats, []byte(`{"tokensUsed":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := kv.Set(ctx, "p1", state.KeyStats, []byte(`{"tokensUsed":2}`)); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := kv.Get(ctx, "p1", state.KeyStats)
	if err != nil || string(got) != `{"tokensUsed":2}` {
		t.Fatalf("Get() = %s, %v", got, err)
	}

	profile, err := state.Create(ctx, kv, "p2", state.Options{})
	if err != nil {
		t.Fatalf("state.Create() error = %v", err)
	}
	loaded, err := state.Load(ctx, kv, "p2", state.Options{})
	if err != nil || loaded.User().UUID != profile.User().UUID {
		t.Fatalf("state.Load() = %+v, %v", loaded, err)
	}
}
