package engine

import (
	"context"
	"errors"
	"testing"

	"boardgame-bot/internal/repo"
)

func seededBonuses(t *testing.T, eng *Engine) map[string]repo.Bonus {
	t.Helper()
	list, err := eng.Bonuses(context.Background(), true)
	if err != nil {
		t.Fatalf("list bonuses: %v", err)
	}
	byName := make(map[string]repo.Bonus, len(list))
	for _, b := range list {
		byName[b.Name] = b
	}
	return byName
}

func TestActivateBonusSetsWindow(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 3101, "Федя", "")
	catalog := seededBonuses(t, eng)

	weeks := catalog["Месяц с игрой"]
	ub, err := eng.ActivateBonus(ctx, user, weeks.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if ub.Status != repo.BonusStateActive {
		t.Fatalf("expected active, got %s", ub.Status)
	}
	if ub.TotalRequired != 4 {
		t.Fatalf("weeks bonus requires 4, got %d", ub.TotalRequired)
	}
	if ub.StartsOn == "" || ub.EndsOn == "" || ub.StartsOn >= ub.EndsOn {
		t.Fatalf("bad window %s .. %s", ub.StartsOn, ub.EndsOn)
	}

	fixed := catalog["Отзыв о заказе"]
	fub, err := eng.ActivateBonus(ctx, user, fixed.ID)
	if err != nil {
		t.Fatalf("activate fixed: %v", err)
	}
	if fub.TotalRequired != 1 {
		t.Fatalf("fixed bonus requires 1, got %d", fub.TotalRequired)
	}
}

func TestActivateBonusEnforcesCaps(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 3201, "Христина", "")
	catalog := seededBonuses(t, eng)

	if _, err := eng.ActivateBonus(ctx, user, catalog["Месяц с игрой"].ID); err != nil {
		t.Fatalf("first activation: %v", err)
	}

	// Same bonus again while the first is still active.
	if _, err := eng.ActivateBonus(ctx, user, catalog["Месяц с игрой"].ID); !errors.Is(err, ErrBonusAlreadyActive) {
		t.Fatalf("expected ErrBonusAlreadyActive, got %v", err)
	}

	if _, err := eng.ActivateBonus(ctx, user, catalog["Приведи друзей"].ID); err != nil {
		t.Fatalf("second activation: %v", err)
	}

	// Third concurrent activation exceeds the cap.
	if _, err := eng.ActivateBonus(ctx, user, catalog["Отзыв о заказе"].ID); !errors.Is(err, ErrBonusLimit) {
		t.Fatalf("expected ErrBonusLimit, got %v", err)
	}
}

func TestBonusReviewApprovePaysOnce(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 3301, "Царина", "")
	catalog := seededBonuses(t, eng)

	review := catalog["Отзыв о заказе"]
	ub, err := eng.ActivateBonus(ctx, user, review.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	if _, err := eng.BonusProgress(ctx, ub.ID, 1); err != nil {
		t.Fatalf("progress: %v", err)
	}
	submitted, err := eng.CompleteBonus(ctx, ub.ID, "https://example.com/review")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if submitted.Status != repo.BonusStatePendingReview {
		t.Fatalf("expected pending_review, got %s", submitted.Status)
	}
	if submitted.Proof == nil || *submitted.Proof != "https://example.com/review" {
		t.Fatalf("proof not recorded: %+v", submitted.Proof)
	}

	approved, err := eng.ApproveBonus(ctx, ub.ID, "admin-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != repo.BonusStateCompleted || !approved.RewardPaid {
		t.Fatalf("expected completed and paid, got %+v", approved)
	}

	paid, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if paid.Balance != review.RewardAmount || paid.TotalEarned != review.RewardAmount {
		t.Fatalf("reward not credited: balance %d earned %d, want %d", paid.Balance, paid.TotalEarned, review.RewardAmount)
	}

	// A second approval must fail before any payment.
	if _, err := eng.ApproveBonus(ctx, ub.ID, "admin-1"); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on double approve, got %v", err)
	}
	after, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if after.Balance != review.RewardAmount {
		t.Fatalf("double approve changed balance: %d", after.Balance)
	}
}

func TestApproveBonusCreditsAndLogsTogether(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 3501, "Шура", "")
	catalog := seededBonuses(t, eng)

	review := catalog["Отзыв о заказе"]
	ub, err := eng.ActivateBonus(ctx, user, review.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := eng.CompleteBonus(ctx, ub.ID, "https://example.com/review"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := eng.ApproveBonus(ctx, ub.ID, "admin-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	countRewards := func() int {
		t.Helper()
		activity, err := eng.RecentActivity(ctx, 50)
		if err != nil {
			t.Fatalf("activity: %v", err)
		}
		rewards := 0
		for _, a := range activity {
			if a.Action == "bonus_reward" {
				rewards++
			}
		}
		return rewards
	}
	if got := countRewards(); got != 1 {
		t.Fatalf("expected exactly one reward audit entry, got %d", got)
	}

	// A refused second approval must neither pay nor log again.
	if _, err := eng.ApproveBonus(ctx, ub.ID, "admin-1"); !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := countRewards(); got != 1 {
		t.Fatalf("refused approval added audit entries, got %d", got)
	}
	after, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if after.Balance != review.RewardAmount {
		t.Fatalf("balance %d, want %d", after.Balance, review.RewardAmount)
	}
}

func TestCreateUserBonusEnforcesCapAtWrite(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 3601, "Эмма", "")
	catalog := seededBonuses(t, eng)

	if _, err := eng.ActivateBonus(ctx, user, catalog["Месяц с игрой"].ID); err != nil {
		t.Fatalf("first activation: %v", err)
	}
	if _, err := eng.ActivateBonus(ctx, user, catalog["Приведи друзей"].ID); err != nil {
		t.Fatalf("second activation: %v", err)
	}

	// The insert itself re-counts active rows, so the cap holds even for a
	// writer that never ran the engine's pre-check.
	_, err := eng.Store().CreateUserBonus(ctx, repo.UserBonus{
		UserID:        user.ID,
		BonusID:       catalog["Отзыв о заказе"].ID,
		TotalRequired: 1,
		StartsOn:      "2026-08-30",
		EndsOn:        "2026-09-30",
	}, maxActiveBonuses)
	if !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from capped insert, got %v", err)
	}

	active, err := eng.Store().CountActiveUserBonuses(ctx, user.ID)
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 2 {
		t.Fatalf("cap breached, %d active activations", active)
	}
}

func TestBonusRejectPaysNothingAndFreesSlot(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	user := registerUser(t, eng, 3401, "Чеслав", "")
	catalog := seededBonuses(t, eng)

	review := catalog["Отзыв о заказе"]
	ub, err := eng.ActivateBonus(ctx, user, review.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := eng.CompleteBonus(ctx, ub.ID, "фото чека"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rejected, err := eng.RejectBonus(ctx, ub.ID, "admin-1", "отзыв не найден")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != repo.BonusStateRejected || rejected.RewardPaid {
		t.Fatalf("expected rejected unpaid, got %+v", rejected)
	}

	after, err := eng.Store().GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if after.Balance != 0 {
		t.Fatalf("rejection must not pay, balance %d", after.Balance)
	}

	// Rejection is terminal, so the same bonus can start over.
	if _, err := eng.ActivateBonus(ctx, user, review.ID); err != nil {
		t.Fatalf("re-activate after rejection: %v", err)
	}
}
