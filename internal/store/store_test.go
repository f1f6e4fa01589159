package store

import (
	"context"
	"io"
	"testing"
	"time"

	"log/slog"

	"lotsync/internal/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	s := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return s
}

func seedVehicles(t *testing.T, s *Store, records []model.VehicleRecord, now time.Time) {
	t.Helper()
	if err := s.Reconcile(context.Background(), records, ReconcileOptions{Now: now}); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.EnsureAdmin(ctx, "admin", "secret123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	user, err := s.VerifyUser(ctx, "admin", "secret123")
	if err != nil {
		t.Fatalf("verify admin: %v", err)
	}
	if !user.IsAdmin {
		t.Fatalf("expected initial user to be admin")
	}

	// 已有用户时不再创建
	if err := s.EnsureAdmin(ctx, "other", "password"); err != nil {
		t.Fatalf("second ensure admin: %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
}

func TestEnsureAdmin_EmptyPasswordSkips(t *testing.T) {
	s := newTestStore(t)

	if err := s.EnsureAdmin(context.Background(), "admin", ""); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no users, got %d", len(users))
	}
}
