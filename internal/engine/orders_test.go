package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"boardgame-bot/internal/repo"
)

func TestCreateOrderSeedsStages(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 1101, "Клава", "")

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.Status != repo.OrderStatusNew {
		t.Fatalf("expected status new, got %s", order.Status)
	}
	if order.CurrentStage != 1 || order.ProgressPercent != 0 {
		t.Fatalf("expected fresh progress, got stage %d percent %d", order.CurrentStage, order.ProgressPercent)
	}
	if order.TotalStages != 9 {
		t.Fatalf("expected 9 stages, got %d", order.TotalStages)
	}

	tracker, err := eng.Tracker(ctx, order.ID)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	if len(tracker.Stages) != 9 {
		t.Fatalf("expected 9 stage rows, got %d", len(tracker.Stages))
	}
	if tracker.Stages[0].Name != "Анкета" || tracker.Stages[8].Name != "Доставка" {
		t.Fatalf("unexpected stage names: %s ... %s", tracker.Stages[0].Name, tracker.Stages[8].Name)
	}
	if len(tracker.History) != 1 || tracker.History[0].Status != repo.OrderStatusNew {
		t.Fatalf("expected initial history entry, got %+v", tracker.History)
	}
}

func TestUpdateStageRecomputesProgress(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 1201, "Лев", "")

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	comment := "анкета проверена"
	updated, err := eng.UpdateStage(ctx, order.ID, 1, true, &comment)
	if err != nil {
		t.Fatalf("complete stage: %v", err)
	}
	if updated.CurrentStage != 2 {
		t.Fatalf("expected current stage 2, got %d", updated.CurrentStage)
	}
	if updated.ProgressPercent != 11 {
		t.Fatalf("expected 11 percent after 1 of 9, got %d", updated.ProgressPercent)
	}

	// Repeating the same completion must not double-count.
	again, err := eng.UpdateStage(ctx, order.ID, 1, true, nil)
	if err != nil {
		t.Fatalf("repeat stage: %v", err)
	}
	if again.ProgressPercent != 11 || again.CurrentStage != 2 {
		t.Fatalf("recompute not idempotent: stage %d percent %d", again.CurrentStage, again.ProgressPercent)
	}

	// Un-completing rolls progress back.
	rolled, err := eng.UpdateStage(ctx, order.ID, 1, false, nil)
	if err != nil {
		t.Fatalf("uncomplete stage: %v", err)
	}
	if rolled.ProgressPercent != 0 || rolled.CurrentStage != 1 {
		t.Fatalf("expected rollback to zero, got stage %d percent %d", rolled.CurrentStage, rolled.ProgressPercent)
	}
}

func TestUpdateStatusStampsCompletion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 1301, "Мира", "")

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	admin := "admin-1"
	note := "готово"
	completed, err := eng.UpdateStatus(ctx, order.ID, repo.OrderStatusCompleted, &admin, &note)
	if err != nil {
		t.Fatalf("complete order: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Fatal("completed_at must be stamped")
	}

	tracker, err := eng.Tracker(ctx, order.ID)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	last := tracker.History[len(tracker.History)-1]
	if last.Status != repo.OrderStatusCompleted {
		t.Fatalf("expected completed history entry, got %s", last.Status)
	}
	if last.ChangedBy == nil || *last.ChangedBy != admin {
		t.Fatalf("expected actor recorded, got %+v", last.ChangedBy)
	}
}

func TestUpdateStatusRejectsUnknown(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 1401, "Нина", "")

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := eng.UpdateStatus(ctx, order.ID, "shipped", nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateStatusTerminalIsFinal(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 1601, "Петр", "")

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	admin := "admin-1"
	done, err := eng.UpdateStatus(ctx, order.ID, repo.OrderStatusCompleted, &admin, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	// A finished order cannot be reopened or cancelled.
	if _, err := eng.UpdateStatus(ctx, order.ID, repo.OrderStatusActive, &admin, nil); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on reopen, got %v", err)
	}
	if _, err := eng.UpdateStatus(ctx, order.ID, repo.OrderStatusCancelled, &admin, nil); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on cancel, got %v", err)
	}

	after, err := eng.Store().GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if after.Status != repo.OrderStatusCompleted || after.CompletedAt == nil {
		t.Fatalf("terminal order was changed: status %s completed_at %v", after.Status, after.CompletedAt)
	}

	tracker, err := eng.Tracker(ctx, order.ID)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	if len(tracker.History) != 2 {
		t.Fatalf("refused transitions must not add history, got %d entries", len(tracker.History))
	}
}

func TestUpdateStatusCancelledStaysCancelled(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 1651, "Роза", "")

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := eng.UpdateStatus(ctx, order.ID, repo.OrderStatusCancelled, nil, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := eng.UpdateStatus(ctx, order.ID, repo.OrderStatusActive, nil, nil); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on revive, got %v", err)
	}
}

func TestStageNotificationUsesStoredName(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 1701, "Рита", "")

	// Eleven stages: numbers 10 and 11 get placeholder names at creation.
	if err := eng.SetSetting(ctx, SettingOrderStageCount, "11"); err != nil {
		t.Fatalf("set stage count: %v", err)
	}
	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.TotalStages != 11 {
		t.Fatalf("expected 11 stages, got %d", order.TotalStages)
	}

	if _, err := eng.UpdateStage(ctx, order.ID, 10, true, nil); err != nil {
		t.Fatalf("complete stage 10: %v", err)
	}

	inbox, err := eng.Inbox(ctx, user.ID, 20)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	found := false
	for _, n := range inbox {
		if n.Type != "order_stage_completed" {
			continue
		}
		found = true
		if !strings.Contains(n.Message, "«Этап 10»") {
			t.Fatalf("notification must carry the stored stage name, got %q", n.Message)
		}
	}
	if !found {
		t.Fatal("stage completion notification missing")
	}
}

func TestOrderEndToEnd(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	user := registerUser(t, eng, 1501, "Олег", "")
	if user.ReferrerID != nil {
		t.Fatal("expected no referrer")
	}

	order, err := eng.CreateOrder(ctx, user, testOrderForm())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != repo.OrderStatusNew || order.CurrentStage != 1 || order.ProgressPercent != 0 {
		t.Fatalf("unexpected fresh order state: %+v", order)
	}

	comment := "первый этап закрыт"
	after, err := eng.UpdateStage(ctx, order.ID, 1, true, &comment)
	if err != nil {
		t.Fatalf("stage 1: %v", err)
	}
	if after.CurrentStage != 2 || after.ProgressPercent != 11 {
		t.Fatalf("expected stage 2 at 11 percent, got %d/%d", after.CurrentStage, after.ProgressPercent)
	}

	admin := "admin-1"
	done, err := eng.UpdateStatus(ctx, order.ID, repo.OrderStatusCompleted, &admin, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}
