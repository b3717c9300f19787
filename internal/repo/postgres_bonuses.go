package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureBonus inserts the catalog entry unless one with the same name already
// exists, so default seeding stays idempotent.
func (r *PostgresStore) EnsureBonus(ctx context.Context, b Bonus) error {
	conditions, err := conditionsToJSON(b.Conditions)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO bonuses (id, name, description, reward_amount, requirement_type, conditions,
    duration_days, max_active, combinable, status, sort_order)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (name) DO NOTHING;`
	if _, err := r.pool.Exec(ctx, q,
		newID(), b.Name, b.Description, b.RewardAmount, b.RequirementType, conditions,
		b.DurationDays, b.MaxActive, b.Combinable, b.Status, b.SortOrder); err != nil {
		return mapPgErr(err, "ensure bonus")
	}
	return nil
}

func (r *PostgresStore) ListBonuses(ctx context.Context, onlyActive bool) ([]Bonus, error) {
	q := `SELECT ` + bonusCols + ` FROM bonuses`
	var args []any
	if onlyActive {
		q += ` WHERE status = $1`
		args = append(args, "active")
	}
	q += ` ORDER BY sort_order ASC, name ASC;`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapPgErr(err, "list bonuses")
	}
	defer rows.Close()

	var bonuses []Bonus
	for rows.Next() {
		b, err := scanBonus(rows)
		if err != nil {
			return nil, mapPgErr(err, "scan bonus")
		}
		bonuses = append(bonuses, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate bonuses")
	}
	return bonuses, nil
}

func (r *PostgresStore) GetBonus(ctx context.Context, id string) (*Bonus, error) {
	q := `SELECT ` + bonusCols + ` FROM bonuses WHERE id = $1 LIMIT 1;`
	b, err := scanBonus(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapPgErr(err, "get bonus")
	}
	return b, nil
}

func (r *PostgresStore) CountActiveUserBonuses(ctx context.Context, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM user_bonuses WHERE user_id = $1 AND status = $2;`
	var count int
	if err := r.pool.QueryRow(ctx, q, userID, BonusStateActive).Scan(&count); err != nil {
		return 0, mapPgErr(err, "count active bonuses")
	}
	return count, nil
}

func (r *PostgresStore) GetNonTerminalUserBonus(ctx context.Context, userID, bonusID string) (*UserBonus, error) {
	q := `
SELECT ` + userBonusCols + `
FROM user_bonuses
WHERE user_id = $1 AND bonus_id = $2 AND status IN ($3, $4)
LIMIT 1;`
	ub, err := scanUserBonus(r.pool.QueryRow(ctx, q, userID, bonusID, BonusStateActive, BonusStatePendingReview))
	if err != nil {
		return nil, mapPgErr(err, "get non-terminal activation")
	}
	return ub, nil
}

// CreateUserBonus inserts the activation only while the user holds fewer than
// activeCap active ones. The count lives in the INSERT itself so two
// concurrent activations cannot both slip under the cap.
func (r *PostgresStore) CreateUserBonus(ctx context.Context, ub UserBonus, activeCap int) (*UserBonus, error) {
	q := `
INSERT INTO user_bonuses (id, user_id, bonus_id, total_required, starts_on, ends_on, status)
SELECT $1, $2, $3, $4, $5, $6, $7
WHERE (SELECT COUNT(*) FROM user_bonuses WHERE user_id = $8 AND status = $9) < $10
RETURNING ` + userBonusCols + `;`
	created, err := scanUserBonus(r.pool.QueryRow(ctx, q,
		newID(), ub.UserID, ub.BonusID, ub.TotalRequired, ub.StartsOn, ub.EndsOn, BonusStateActive,
		ub.UserID, BonusStateActive, activeCap))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create activation: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapPgErr(err, "create activation")
	}
	return created, nil
}

func (r *PostgresStore) GetUserBonus(ctx context.Context, id string) (*UserBonus, error) {
	q := `SELECT ` + userBonusCols + ` FROM user_bonuses WHERE id = $1 LIMIT 1;`
	ub, err := scanUserBonus(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapPgErr(err, "get activation")
	}
	return ub, nil
}

func (r *PostgresStore) ListUserBonuses(ctx context.Context, userID string) ([]UserBonus, error) {
	q := `SELECT ` + userBonusCols + ` FROM user_bonuses WHERE user_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, mapPgErr(err, "list activations")
	}
	defer rows.Close()

	var items []UserBonus
	for rows.Next() {
		ub, err := scanUserBonus(rows)
		if err != nil {
			return nil, mapPgErr(err, "scan activation")
		}
		items = append(items, *ub)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate activations")
	}
	return items, nil
}

func (r *PostgresStore) IncrementBonusProgress(ctx context.Context, userBonusID string, delta int) (*UserBonus, error) {
	q := `
UPDATE user_bonuses
SET progress = progress + $1, updated_at = NOW()
WHERE id = $2 AND status = $3
RETURNING ` + userBonusCols + `;`
	ub, err := scanUserBonus(r.pool.QueryRow(ctx, q, delta, userBonusID, BonusStateActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("increment progress: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapPgErr(err, "increment progress")
	}
	return ub, nil
}

// SubmitBonusProof moves an activation to pending_review only from active.
func (r *PostgresStore) SubmitBonusProof(ctx context.Context, userBonusID, proof string) (*UserBonus, error) {
	q := `
UPDATE user_bonuses
SET status = $1, proof = $2, updated_at = NOW()
WHERE id = $3 AND status = $4
RETURNING ` + userBonusCols + `;`
	ub, err := scanUserBonus(r.pool.QueryRow(ctx, q, BonusStatePendingReview, proof, userBonusID, BonusStateActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submit proof: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapPgErr(err, "submit proof")
	}
	return ub, nil
}

// ApproveUserBonus completes a pending_review activation and credits the
// reward in the same transaction, so the paid flag and the balance can never
// disagree. A second approval finds no matching row and fails cleanly.
func (r *PostgresStore) ApproveUserBonus(ctx context.Context, userBonusID string, reward int64, action, details string) (*UserBonus, error) {
	var approved *UserBonus
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		q := `
UPDATE user_bonuses
SET status = $1, reward_paid = $2, updated_at = NOW()
WHERE id = $3 AND status = $4
RETURNING ` + userBonusCols + `;`
		row := tx.QueryRow(ctx, q, BonusStateCompleted, reward > 0, userBonusID, BonusStatePendingReview)
		var err error
		approved, err = scanUserBonus(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("approve activation: %w", ErrUnavailable)
		}
		if err != nil {
			return mapPgErr(err, "approve activation")
		}
		if reward > 0 {
			if _, err := tx.Exec(ctx, `
UPDATE users
SET balance = balance + $2, total_earned = total_earned + $2, updated_at = NOW()
WHERE id = $1;`,
				approved.UserID, reward); err != nil {
				return mapPgErr(err, "credit reward")
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO activity_log (id, user_id, action, details) VALUES ($1, $2, $3, $4);`,
				newID(), approved.UserID, action, details); err != nil {
				return mapPgErr(err, "log reward credit")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// ReviewUserBonus resolves a pending_review activation; a second review of the
// same activation finds no matching row and fails cleanly.
func (r *PostgresStore) ReviewUserBonus(ctx context.Context, userBonusID, status string, rewardPaid bool) (*UserBonus, error) {
	q := `
UPDATE user_bonuses
SET status = $1, reward_paid = $2, updated_at = NOW()
WHERE id = $3 AND status = $4
RETURNING ` + userBonusCols + `;`
	ub, err := scanUserBonus(r.pool.QueryRow(ctx, q, status, rewardPaid, userBonusID, BonusStatePendingReview))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("review activation: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapPgErr(err, "review activation")
	}
	return ub, nil
}
