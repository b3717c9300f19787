package engine

import (
	"context"
	"errors"
	"testing"

	"boardgame-bot/internal/repo"
)

func TestRegisterUserWithoutReferral(t *testing.T) {
	eng := newTestEngine(t)

	user := registerUser(t, eng, 1001, "Аня", "")
	if user.ReferrerID != nil {
		t.Fatalf("expected no referrer, got %v", *user.ReferrerID)
	}
	if user.ReferralCode == "" {
		t.Fatal("expected generated referral code")
	}

	other := registerUser(t, eng, 1002, "Борис", "")
	if other.ReferralCode == user.ReferralCode {
		t.Fatal("referral codes must be unique")
	}
}

func TestRegisterUserResolvesReferralWithPrefix(t *testing.T) {
	eng := newTestEngine(t)

	referrer := registerUser(t, eng, 2001, "Вера", "")
	referred := registerUser(t, eng, 2002, "Глеб", "ref_"+referrer.ReferralCode)

	if referred.ReferrerID == nil {
		t.Fatal("expected referrer to resolve")
	}
	if *referred.ReferrerID != referrer.ID {
		t.Fatalf("expected referrer %s, got %s", referrer.ID, *referred.ReferrerID)
	}

	inbox, err := eng.Inbox(context.Background(), referrer.ID, 10)
	if err != nil {
		t.Fatalf("list inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Type != "new_referral" {
		t.Fatalf("expected one new_referral notification, got %+v", inbox)
	}
}

func TestRegisterUserUnknownCodeFallsBack(t *testing.T) {
	eng := newTestEngine(t)

	user := registerUser(t, eng, 3001, "Дина", "ref_NOSUCHCODE")
	if user.ReferrerID != nil {
		t.Fatal("unknown code must degrade to no referrer")
	}
}

func TestRegisterUserIsIdempotentPerChat(t *testing.T) {
	eng := newTestEngine(t)

	first := registerUser(t, eng, 4001, "Егор", "")
	second := registerUser(t, eng, 4001, "Егор", "")
	if first.ID != second.ID {
		t.Fatalf("expected same user on re-registration, got %s and %s", first.ID, second.ID)
	}
}

func TestAdjustBalanceConservation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 5001, "Женя", "")

	if _, err := eng.AdjustBalance(ctx, user.ID, 500, "test_credit", ""); err != nil {
		t.Fatalf("credit: %v", err)
	}
	updated, err := eng.AdjustBalance(ctx, user.ID, -200, "test_debit", "")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}

	if updated.Balance != 300 {
		t.Fatalf("expected balance 300, got %d", updated.Balance)
	}
	if updated.TotalEarned != 500 {
		t.Fatalf("total_earned must only grow on credits, got %d", updated.TotalEarned)
	}
}

func TestAdjustBalanceRefusesNegative(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 6001, "Зоя", "")

	if _, err := eng.AdjustBalance(ctx, user.ID, 100, "test_credit", ""); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := eng.AdjustBalance(ctx, user.ID, -150, "test_debit", "")
	if !errors.Is(err, repo.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	current, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if current.Balance != 100 {
		t.Fatalf("failed debit must not change balance, got %d", current.Balance)
	}
}

func TestUpdateProfileReportsNoChange(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 7001, "Ира", "")

	changed, err := eng.UpdateProfile(ctx, user.ID, repo.ProfileUpdate{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if changed {
		t.Fatal("empty update must report no change")
	}

	phone := "+79990001122"
	changed, err = eng.UpdateProfile(ctx, user.ID, repo.ProfileUpdate{Phone: &phone})
	if err != nil {
		t.Fatalf("phone update: %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}

	current, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if current.Phone == nil || *current.Phone != phone {
		t.Fatalf("phone not persisted: %+v", current.Phone)
	}
}
