package engine

import (
	"context"
	"errors"
	"testing"

	"boardgame-bot/internal/repo"
)

func fundUser(t *testing.T, eng *Engine, userID string, amount int64) *repo.User {
	t.Helper()
	user, err := eng.AdjustBalance(context.Background(), userID, amount, "test_credit", "seed")
	if err != nil {
		t.Fatalf("fund user: %v", err)
	}
	return user
}

func TestPayoutBelowMinimum(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 4101, "Шура", "")
	user = fundUser(t, eng, user.ID, 2000)

	if _, err := eng.CreatePayoutRequest(ctx, user, 300, "2202 1234 5678 9012", "SHURA I"); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}

	// Raising the floor applies immediately.
	if err := eng.SetSetting(ctx, SettingMinPayoutAmount, "1500"); err != nil {
		t.Fatalf("set minimum: %v", err)
	}
	if _, err := eng.CreatePayoutRequest(ctx, user, 1000, "2202 1234 5678 9012", "SHURA I"); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum under raised floor, got %v", err)
	}
}

func TestPayoutRejectsBadCard(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 4201, "Эля", "")
	user = fundUser(t, eng, user.ID, 2000)

	if _, err := eng.CreatePayoutRequest(ctx, user, 600, "карта", "ELYA K"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for digitless card, got %v", err)
	}
}

func TestPayoutReservesBalance(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 4301, "Юра", "")
	user = fundUser(t, eng, user.ID, 2000)

	p, err := eng.CreatePayoutRequest(ctx, user, 2000, "2202-1234-5678-9012", "YURA P")
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}
	if p.Status != repo.PayoutStatusPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}
	if p.CardLast4 != "9012" {
		t.Fatalf("expected masked card 9012, got %s", p.CardLast4)
	}

	reserved, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if reserved.Balance != 0 || reserved.PendingEarnings != 2000 {
		t.Fatalf("reservation wrong: balance %d pending %d", reserved.Balance, reserved.PendingEarnings)
	}

	// The reserved amount cannot be withdrawn twice.
	if _, err := eng.CreatePayoutRequest(ctx, reserved, 500, "2202 1234 5678 9012", "YURA P"); !errors.Is(err, repo.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPayoutRejectRestoresBalance(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 4401, "Яна", "")
	user = fundUser(t, eng, user.ID, 2000)

	p, err := eng.CreatePayoutRequest(ctx, user, 2000, "2202123456789012", "YANA R")
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}

	reason := "неверные реквизиты"
	rejected, err := eng.ProcessPayout(ctx, p.ID, "admin-1", false, &reason)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != repo.PayoutStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.RejectReason == nil || *rejected.RejectReason != reason {
		t.Fatalf("reason not stored: %+v", rejected.RejectReason)
	}

	after, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if after.Balance != 2000 || after.PendingEarnings != 0 {
		t.Fatalf("balance not restored: balance %d pending %d", after.Balance, after.PendingEarnings)
	}
}

func TestPayoutApproveDrainsReservation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 4501, "Ада", "")
	user = fundUser(t, eng, user.ID, 2000)

	p, err := eng.CreatePayoutRequest(ctx, user, 2000, "2202123456789012", "ADA B")
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}

	approved, err := eng.ProcessPayout(ctx, p.ID, "admin-1", true, nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != repo.PayoutStatusCompleted {
		t.Fatalf("expected completed, got %s", approved.Status)
	}
	if approved.ProcessedAt == nil || approved.ProcessedBy == nil {
		t.Fatalf("processing stamp missing: %+v", approved)
	}

	after, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if after.Balance != 0 || after.PendingEarnings != 0 {
		t.Fatalf("reservation not drained: balance %d pending %d", after.Balance, after.PendingEarnings)
	}

	// A resolved request cannot be processed again.
	if _, err := eng.ProcessPayout(ctx, p.ID, "admin-2", false, nil); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on re-process, got %v", err)
	}

	pending, err := eng.PendingPayouts(ctx)
	if err != nil {
		t.Fatalf("pending list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending queue, got %d", len(pending))
	}
}
