package stats

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"boardgame-bot/internal/engine"
	"boardgame-bot/internal/notify"
	"boardgame-bot/internal/repo"
	"boardgame-bot/migrations"
)

func newTestService(t *testing.T) (*Service, *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := repo.NewSQLite(ctx, ":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	eng := engine.New(store, notify.NewLogSender(logger), nil, logger, engine.Config{})
	if err := eng.SeedDefaults(ctx); err != nil {
		t.Fatalf("seed defaults: %v", err)
	}
	return New(store, nil, nil, logger), eng
}

func TestGetBuildsSnapshotWithoutRedis(t *testing.T) {
	svc, eng := newTestService(t)
	ctx := context.Background()

	user, err := eng.RegisterUser(ctx, 6101, "Женя", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := eng.CreateOrder(ctx, user, repo.OrderForm{
		Occasion: "юбилей", Audience: "коллеги", BudgetRange: "20-30 тыс",
		PlayersRange: "6-8", Emotions: []string{"азарт"}, GameBasis: "викторина",
		Source: "поиск", PlayFrequency: "редко", Description: "игра к юбилею",
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	snap, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Totals.TotalUsers != 1 || snap.Totals.TotalOrders != 1 {
		t.Fatalf("unexpected totals: %+v", snap.Totals)
	}
	if snap.Totals.OrdersByStatus[repo.OrderStatusNew] != 1 {
		t.Fatalf("status breakdown wrong: %v", snap.Totals.OrdersByStatus)
	}
	if snap.GeneratedAt.IsZero() {
		t.Fatal("generated_at not stamped")
	}
}

func TestGetServesCachedCopyUntilInvalidated(t *testing.T) {
	svc, eng := newTestService(t)
	ctx := context.Background()

	first, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.Totals.TotalUsers != 0 {
		t.Fatalf("expected empty system, got %+v", first.Totals)
	}

	if _, err := eng.RegisterUser(ctx, 6201, "Зина", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Within the TTL the stale copy is served.
	cached, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if cached.Totals.TotalUsers != 0 {
		t.Fatalf("expected cached zero, got %d", cached.Totals.TotalUsers)
	}

	svc.Invalidate(ctx)
	fresh, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("post-invalidate get: %v", err)
	}
	if fresh.Totals.TotalUsers != 1 {
		t.Fatalf("invalidation did not rebuild: %d users", fresh.Totals.TotalUsers)
	}
	if !fresh.GeneratedAt.After(first.GeneratedAt) && !fresh.GeneratedAt.Equal(first.GeneratedAt) {
		t.Fatalf("fresh snapshot older than first: %v vs %v", fresh.GeneratedAt, first.GeneratedAt)
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	svc, eng := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Get(ctx); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := eng.RegisterUser(ctx, 6301, "Ира", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	start := time.Now().UTC()
	snap, err := svc.Refresh(ctx, "manual")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.Totals.TotalUsers != 1 {
		t.Fatalf("refresh served stale data: %d users", snap.Totals.TotalUsers)
	}
	if snap.GeneratedAt.Before(start.Add(-time.Second)) {
		t.Fatalf("generated_at not refreshed: %v", snap.GeneratedAt)
	}
}
