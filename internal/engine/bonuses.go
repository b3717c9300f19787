package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boardgame-bot/internal/repo"
)

// maxActiveBonuses caps simultaneously active activations per user across the
// whole catalog.
const maxActiveBonuses = 2

// requirementExtractors maps a catalog requirement_type to the function that
// reads total_required from the condition document. Adding a bonus type means
// adding one entry here, not a new branch in Activate.
var requirementExtractors = map[string]func(repo.BonusConditions) int{
	repo.RequirementWeeks:   func(c repo.BonusConditions) int { return c.WeeksRequired },
	repo.RequirementClients: func(c repo.BonusConditions) int { return c.ClientsRequired },
	repo.RequirementFixed:   func(repo.BonusConditions) int { return 1 },
}

// Bonuses lists the catalog, optionally restricted to active entries.
func (e *Engine) Bonuses(ctx context.Context, onlyActive bool) ([]repo.Bonus, error) {
	return e.store.ListBonuses(ctx, onlyActive)
}

// UserBonuses lists a user's activations, newest first.
func (e *Engine) UserBonuses(ctx context.Context, userID string) ([]repo.UserBonus, error) {
	return e.store.ListUserBonuses(ctx, userID)
}

// ActivateBonus starts an activation window for the user. It enforces the
// system-wide active cap and refuses a second non-terminal activation of the
// same bonus.
func (e *Engine) ActivateBonus(ctx context.Context, user *repo.User, bonusID string) (*repo.UserBonus, error) {
	start := time.Now()
	ub, err := e.activateBonus(ctx, user, bonusID)
	e.observe("activate_bonus", start, err)
	return ub, err
}

func (e *Engine) activateBonus(ctx context.Context, user *repo.User, bonusID string) (*repo.UserBonus, error) {
	bonus, err := e.store.GetBonus(ctx, bonusID)
	if err != nil {
		return nil, err
	}
	if bonus.Status != "active" {
		return nil, fmt.Errorf("bonus %s: %w", bonus.Name, repo.ErrUnavailable)
	}

	active, err := e.store.CountActiveUserBonuses(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if active >= maxActiveBonuses {
		return nil, ErrBonusLimit
	}

	if _, err := e.store.GetNonTerminalUserBonus(ctx, user.ID, bonusID); err == nil {
		return nil, ErrBonusAlreadyActive
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	extract, ok := requirementExtractors[bonus.RequirementType]
	if !ok {
		return nil, fmt.Errorf("requirement type %q: %w", bonus.RequirementType, ErrInvalidInput)
	}
	total := extract(bonus.Conditions)
	if total <= 0 {
		return nil, fmt.Errorf("bonus %s has empty conditions: %w", bonus.Name, ErrInvalidInput)
	}

	today := time.Now().UTC()
	created, err := e.store.CreateUserBonus(ctx, repo.UserBonus{
		UserID:        user.ID,
		BonusID:       bonusID,
		TotalRequired: total,
		StartsOn:      today.Format(slotDateLayout),
		EndsOn:        today.AddDate(0, 0, bonus.DurationDays).Format(slotDateLayout),
	}, maxActiveBonuses)
	if errors.Is(err, repo.ErrUnavailable) {
		// The insert re-counts under the cap, so a concurrent activation
		// that landed after the check above surfaces here.
		return nil, ErrBonusLimit
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.InsertActivity(ctx, &user.ID, "bonus_activated", bonus.Name); err != nil {
		e.logger.Warn("log bonus activation failed", "user_bonus_id", created.ID, "error", err)
	}
	e.notifyUser(ctx, user, "bonus_activated",
		fmt.Sprintf("Бонус «%s» активирован до %s. Выполните условия и пришлите подтверждение.",
			bonus.Name, created.EndsOn),
		&created.ID)
	return created, nil
}

// BonusProgress advances an active activation's counter.
func (e *Engine) BonusProgress(ctx context.Context, userBonusID string, delta int) (*repo.UserBonus, error) {
	start := time.Now()
	ub, err := e.store.IncrementBonusProgress(ctx, userBonusID, delta)
	e.observe("bonus_progress", start, err)
	return ub, err
}

// CompleteBonus submits proof and moves the activation to review. Only an
// active activation can be submitted.
func (e *Engine) CompleteBonus(ctx context.Context, userBonusID, proof string) (*repo.UserBonus, error) {
	start := time.Now()
	ub, err := e.completeBonus(ctx, userBonusID, proof)
	e.observe("complete_bonus", start, err)
	return ub, err
}

func (e *Engine) completeBonus(ctx context.Context, userBonusID, proof string) (*repo.UserBonus, error) {
	ub, err := e.store.SubmitBonusProof(ctx, userBonusID, proof)
	if err != nil {
		return nil, err
	}
	bonus, err := e.store.GetBonus(ctx, ub.BonusID)
	if err != nil {
		return nil, err
	}
	e.notifyAdmins(ctx, "bonus_review",
		fmt.Sprintf("Бонус «%s» отправлен на проверку (активация %s).", bonus.Name, ub.ID),
		&ub.ID)
	return ub, nil
}

// ApproveBonus resolves a review positively and pays the reward. The state
// transition and the reward credit share one store transaction, so a second
// approval of the same activation fails before any payment and a failed credit
// leaves the review pending for a retry.
func (e *Engine) ApproveBonus(ctx context.Context, userBonusID, adminID string) (*repo.UserBonus, error) {
	start := time.Now()
	ub, err := e.approveBonus(ctx, userBonusID, adminID)
	e.observe("approve_bonus", start, err)
	return ub, err
}

func (e *Engine) approveBonus(ctx context.Context, userBonusID, adminID string) (*repo.UserBonus, error) {
	current, err := e.store.GetUserBonus(ctx, userBonusID)
	if err != nil {
		return nil, err
	}
	bonus, err := e.store.GetBonus(ctx, current.BonusID)
	if err != nil {
		return nil, err
	}

	ub, err := e.store.ApproveUserBonus(ctx, userBonusID, bonus.RewardAmount, "bonus_reward", bonus.Name)
	if err != nil {
		return nil, err
	}

	user, err := e.store.GetUserByID(ctx, ub.UserID)
	if err != nil {
		return nil, err
	}

	if err := e.store.InsertActivity(ctx, &adminID, "bonus_approved", bonus.Name); err != nil {
		e.logger.Warn("log bonus approval failed", "user_bonus_id", ub.ID, "error", err)
	}
	e.notifyUser(ctx, user, "bonus_approved",
		fmt.Sprintf("Бонус «%s» подтвержден. Начислено %d руб.", bonus.Name, bonus.RewardAmount),
		&ub.ID)
	return ub, nil
}

// RejectBonus resolves a review negatively with a reason. Nothing is paid and
// the same bonus may be activated again later as a new row.
func (e *Engine) RejectBonus(ctx context.Context, userBonusID, adminID, reason string) (*repo.UserBonus, error) {
	start := time.Now()
	ub, err := e.rejectBonus(ctx, userBonusID, adminID, reason)
	e.observe("reject_bonus", start, err)
	return ub, err
}

func (e *Engine) rejectBonus(ctx context.Context, userBonusID, adminID, reason string) (*repo.UserBonus, error) {
	ub, err := e.store.ReviewUserBonus(ctx, userBonusID, repo.BonusStateRejected, false)
	if err != nil {
		return nil, err
	}
	bonus, err := e.store.GetBonus(ctx, ub.BonusID)
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertActivity(ctx, &adminID, "bonus_rejected", bonus.Name); err != nil {
		e.logger.Warn("log bonus rejection failed", "user_bonus_id", ub.ID, "error", err)
	}

	user, err := e.store.GetUserByID(ctx, ub.UserID)
	if err != nil {
		e.logger.Warn("load activation owner failed", "user_id", ub.UserID, "error", err)
		return ub, nil
	}
	e.notifyUser(ctx, user, "bonus_rejected",
		fmt.Sprintf("Бонус «%s» не подтвержден: %s", bonus.Name, reason),
		&ub.ID)
	return ub, nil
}
