package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"boardgame-bot/internal/repo"
)

func TestCreateSlotValidatesDateAndTime(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.CreateSlot(ctx, "15.09.2026", "10:00"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad date, got %v", err)
	}
	if _, err := eng.CreateSlot(ctx, "2026-09-15", "25:70"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad time, got %v", err)
	}

	slot, err := eng.CreateSlot(ctx, "2026-09-15", "10:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	if !slot.Available {
		t.Fatal("fresh slot must be available")
	}

	if _, err := eng.CreateSlot(ctx, "2026-09-15", "10:00"); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same date and time, got %v", err)
	}
}

func TestBookSlotSnapshotsSettings(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 2101, "Паша", "")

	slot, err := eng.CreateSlot(ctx, "2026-09-20", "14:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	c, err := eng.BookSlot(ctx, user, slot.ID)
	if err != nil {
		t.Fatalf("book slot: %v", err)
	}
	if c.Price != 2000 || c.DurationMinutes != 60 {
		t.Fatalf("expected seeded defaults 2000/60, got %d/%d", c.Price, c.DurationMinutes)
	}
	if c.ScheduledDate != "2026-09-20" || c.ScheduledTime != "14:00" {
		t.Fatalf("schedule not copied from slot: %s %s", c.ScheduledDate, c.ScheduledTime)
	}
	if c.Status != repo.ConsultationStatusPending || c.PaymentConfirmed {
		t.Fatalf("unexpected fresh state: %s paid=%v", c.Status, c.PaymentConfirmed)
	}

	// Price changes apply to bookings made after the change only.
	if err := eng.SetSetting(ctx, SettingConsultationPrice, "3500"); err != nil {
		t.Fatalf("set price: %v", err)
	}
	slot2, err := eng.CreateSlot(ctx, "2026-09-21", "14:00")
	if err != nil {
		t.Fatalf("create slot 2: %v", err)
	}
	c2, err := eng.BookSlot(ctx, user, slot2.ID)
	if err != nil {
		t.Fatalf("book slot 2: %v", err)
	}
	if c2.Price != 3500 {
		t.Fatalf("expected updated price 3500, got %d", c2.Price)
	}
	if c.Price != 2000 {
		t.Fatalf("earlier booking must keep its snapshot, got %d", c.Price)
	}
}

func TestBookSlotSecondBookerLoses(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	first := registerUser(t, eng, 2201, "Рита", "")
	second := registerUser(t, eng, 2202, "Стас", "")

	slot, err := eng.CreateSlot(ctx, "2026-09-22", "11:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	if _, err := eng.BookSlot(ctx, first, slot.ID); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := eng.BookSlot(ctx, second, slot.ID); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for taken slot, got %v", err)
	}

	open, err := eng.OpenSlots(ctx)
	if err != nil {
		t.Fatalf("open slots: %v", err)
	}
	for _, s := range open {
		if s.ID == slot.ID {
			t.Fatal("booked slot still listed as open")
		}
	}
}

func TestConfirmPaymentIsSingleShot(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 2301, "Таня", "")

	slot, err := eng.CreateSlot(ctx, "2026-09-23", "16:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	c, err := eng.BookSlot(ctx, user, slot.ID)
	if err != nil {
		t.Fatalf("book slot: %v", err)
	}

	confirmed, err := eng.ConfirmPayment(ctx, c.ID, "admin-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !confirmed.PaymentConfirmed || confirmed.Status != repo.ConsultationStatusConfirmed {
		t.Fatalf("not confirmed: %+v", confirmed)
	}
	if confirmed.PaidAmount != confirmed.Price {
		t.Fatalf("paid amount must equal price, got %d vs %d", confirmed.PaidAmount, confirmed.Price)
	}

	if _, err := eng.ConfirmPayment(ctx, c.ID, "admin-1"); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on repeat confirm, got %v", err)
	}
}

func TestConfirmPaymentNamesManager(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 2501, "Фаина", "")
	manager := registerUser(t, eng, 2502, "Харитон", "")

	slot, err := eng.CreateSlot(ctx, "2026-09-24", "17:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	c, err := eng.BookSlot(ctx, user, slot.ID)
	if err != nil {
		t.Fatalf("book slot: %v", err)
	}
	if _, err := eng.ConfirmPayment(ctx, c.ID, manager.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	inbox, err := eng.Inbox(ctx, user.ID, 20)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	found := false
	for _, n := range inbox {
		if n.Type != "consultation_confirmed" {
			continue
		}
		found = true
		if !strings.Contains(n.Message, manager.DisplayName) {
			t.Fatalf("confirmation must name the manager, got %q", n.Message)
		}
	}
	if !found {
		t.Fatal("confirmation notification missing")
	}
}

func TestSendRemindersOnceOnly(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 2401, "Уля", "")

	// A confirmed consultation exactly one lead-time ahead.
	tomorrow := time.Now().UTC().Add(24 * time.Hour).Format("2006-01-02")
	slot, err := eng.CreateSlot(ctx, tomorrow, "12:00")
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}
	c, err := eng.BookSlot(ctx, user, slot.ID)
	if err != nil {
		t.Fatalf("book slot: %v", err)
	}
	if _, err := eng.ConfirmPayment(ctx, c.ID, "admin-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	sent, err := eng.SendReminders(ctx)
	if err != nil {
		t.Fatalf("send reminders: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 reminder, got %d", sent)
	}

	again, err := eng.SendReminders(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if again != 0 {
		t.Fatalf("reminder not idempotent, sent %d more", again)
	}

	inbox, err := eng.Inbox(ctx, user.ID, 20)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	reminders := 0
	for _, n := range inbox {
		if n.Type == "consultation_reminder" {
			reminders++
		}
	}
	if reminders != 1 {
		t.Fatalf("expected exactly one reminder notification, got %d", reminders)
	}
}
