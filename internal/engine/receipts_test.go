package engine

import (
	"context"
	"errors"
	"testing"

	"boardgame-bot/internal/repo"
)

func TestSubmitReceiptRequiresExactlyOneTarget(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 5101, "Боря", "")

	orderID := "o-1"
	consultationID := "c-1"
	if _, err := eng.SubmitReceipt(ctx, user.ID, nil, nil, 1000, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for no target, got %v", err)
	}
	if _, err := eng.SubmitReceipt(ctx, user.ID, &orderID, &consultationID, 1000, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for both targets, got %v", err)
	}

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := eng.SubmitReceipt(ctx, user.ID, &order.ID, nil, 0, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero amount, got %v", err)
	}
}

func TestConfirmOrderReceiptPaysReferrer(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	referrer := registerUser(t, eng, 5201, "Вера", "")
	buyer := registerUser(t, eng, 5202, "Гена", referrer.ReferralCode)
	if buyer.ReferrerID == nil || *buyer.ReferrerID != referrer.ID {
		t.Fatal("referral link not established")
	}

	order, err := eng.CreateOrder(ctx, buyer, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Referral terms are read at confirmation time, not at order creation.
	if err := eng.SetSetting(ctx, SettingReferralBonus, "700"); err != nil {
		t.Fatalf("set flat bonus: %v", err)
	}
	if err := eng.SetSetting(ctx, SettingReferralPercentage, "15"); err != nil {
		t.Fatalf("set percentage: %v", err)
	}

	rc, err := eng.SubmitReceipt(ctx, buyer.ID, &order.ID, nil, 10050, nil)
	if err != nil {
		t.Fatalf("submit receipt: %v", err)
	}
	confirmed, err := eng.ConfirmReceipt(ctx, rc.ID, "admin-1")
	if err != nil {
		t.Fatalf("confirm receipt: %v", err)
	}
	if !confirmed.Confirmed {
		t.Fatal("receipt not marked confirmed")
	}

	paidOrder, err := eng.Store().GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if paidOrder.PaidAmount != 10050 {
		t.Fatalf("order paid amount %d, want 10050", paidOrder.PaidAmount)
	}

	// 700 flat plus floor(10050 * 15 / 100) = 1507.
	after, err := eng.Store().GetUserByID(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("reload referrer: %v", err)
	}
	if after.Balance != 2207 {
		t.Fatalf("referrer balance %d, want 2207", after.Balance)
	}

	actions := map[string]bool{}
	activity, err := eng.RecentActivity(ctx, 50)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	for _, a := range activity {
		actions[a.Action] = true
	}
	if !actions["referral_flat_bonus"] || !actions["referral_percent_bonus"] {
		t.Fatalf("referral audit entries missing: %v", actions)
	}

	// A second confirmation of the same receipt is refused and pays nothing.
	if _, err := eng.ConfirmReceipt(ctx, rc.ID, "admin-1"); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on repeat confirm, got %v", err)
	}
	unchanged, err := eng.Store().GetUserByID(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("reload referrer: %v", err)
	}
	if unchanged.Balance != 2207 {
		t.Fatalf("double confirm changed referrer balance: %d", unchanged.Balance)
	}
}

func TestConfirmOrderReceiptWithoutReferrer(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	buyer := registerUser(t, eng, 5301, "Дима", "")

	order, err := eng.CreateOrder(ctx, buyer, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	rc, err := eng.SubmitReceipt(ctx, buyer.ID, &order.ID, nil, 5000, nil)
	if err != nil {
		t.Fatalf("submit receipt: %v", err)
	}
	if _, err := eng.ConfirmReceipt(ctx, rc.ID, "admin-1"); err != nil {
		t.Fatalf("confirm receipt: %v", err)
	}

	activity, err := eng.RecentActivity(ctx, 50)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	for _, a := range activity {
		if a.Action == "referral_flat_bonus" || a.Action == "referral_percent_bonus" {
			t.Fatalf("unexpected referral payout: %+v", a)
		}
	}
}

func TestConfirmReceiptRollsBackOnConfirmedConsultation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 5501, "Жанна", "")

	slot, err := eng.CreateSlot(ctx, "2026-10-02", "15:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	c, err := eng.BookSlot(ctx, user, slot.ID)
	if err != nil {
		t.Fatalf("book slot: %v", err)
	}
	rc, err := eng.SubmitReceipt(ctx, user.ID, nil, &c.ID, c.Price, nil)
	if err != nil {
		t.Fatalf("submit receipt: %v", err)
	}

	// The consultation gets confirmed directly before the receipt is handled.
	if _, err := eng.ConfirmPayment(ctx, c.ID, "admin-1"); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	if _, err := eng.ConfirmReceipt(ctx, rc.ID, "admin-1"); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// The failed confirmation must not leave the receipt flipped.
	after, err := eng.Store().GetReceipt(ctx, rc.ID)
	if err != nil {
		t.Fatalf("reload receipt: %v", err)
	}
	if after.Confirmed {
		t.Fatal("receipt confirmed despite rolled back confirmation")
	}
}

func TestConfirmConsultationReceiptConfirmsPayment(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 5401, "Ева", "")

	slot, err := eng.CreateSlot(ctx, "2026-10-01", "13:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	c, err := eng.BookSlot(ctx, user, slot.ID)
	if err != nil {
		t.Fatalf("book slot: %v", err)
	}

	rc, err := eng.SubmitReceipt(ctx, user.ID, nil, &c.ID, c.Price, nil)
	if err != nil {
		t.Fatalf("submit receipt: %v", err)
	}
	if _, err := eng.ConfirmReceipt(ctx, rc.ID, "admin-1"); err != nil {
		t.Fatalf("confirm receipt: %v", err)
	}

	after, err := eng.Store().GetConsultation(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload consultation: %v", err)
	}
	if !after.PaymentConfirmed || after.Status != repo.ConsultationStatusConfirmed {
		t.Fatalf("consultation not confirmed through receipt: %+v", after)
	}
	if after.PaidAmount != after.Price {
		t.Fatalf("paid amount %d, want %d", after.PaidAmount, after.Price)
	}
}
