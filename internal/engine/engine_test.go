package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"boardgame-bot/internal/notify"
	"boardgame-bot/internal/repo"
	"boardgame-bot/migrations"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := repo.NewSQLite(context.Background(), ":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.RunMigrations(context.Background(), migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	eng := New(store, notify.NewLogSender(logger), nil, logger, Config{AdminChatIDs: []int64{100}})
	if err := eng.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed defaults: %v", err)
	}
	return eng
}

func registerUser(t *testing.T, eng *Engine, telegramID int64, name, code string) *repo.User {
	t.Helper()
	user, err := eng.RegisterUser(context.Background(), telegramID, name, code)
	if err != nil {
		t.Fatalf("register user %d: %v", telegramID, err)
	}
	return user
}

func testOrderForm() repo.OrderForm {
	return repo.OrderForm{
		Occasion:      "день рождения",
		Audience:      "семья",
		BudgetRange:   "10-20 тыс",
		PlayersRange:  "4-6",
		Emotions:      []string{"азарт", "смех"},
		GameBasis:     "новая механика",
		Source:        "рекомендация",
		PlayFrequency: "раз в неделю",
		Description:   "игра про семейное путешествие",
	}
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.SetSetting(ctx, SettingReferralBonus, "999"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := eng.SeedDefaults(ctx); err != nil {
		t.Fatalf("re-seed: %v", err)
	}

	value, err := eng.GetSetting(ctx, SettingReferralBonus)
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if value != "999" {
		t.Fatalf("re-seed overwrote admin value, got %s", value)
	}

	bonuses, err := eng.Bonuses(ctx, false)
	if err != nil {
		t.Fatalf("list bonuses: %v", err)
	}
	if len(bonuses) != len(defaultBonuses) {
		t.Fatalf("expected %d bonuses after re-seed, got %d", len(defaultBonuses), len(bonuses))
	}
}
