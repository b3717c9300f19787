package repo

import (
	"context"
	"database/sql"
	"fmt"
)

const bonusCols = `id, name, description, reward_amount, requirement_type, conditions,
duration_days, max_active, combinable, status, sort_order, created_at`

func scanBonus(row rowScanner) (*Bonus, error) {
	var b Bonus
	var conditions string
	if err := row.Scan(
		&b.ID, &b.Name, &b.Description, &b.RewardAmount, &b.RequirementType, &conditions,
		&b.DurationDays, &b.MaxActive, &b.Combinable, &b.Status, &b.SortOrder, &b.CreatedAt,
	); err != nil {
		return nil, err
	}
	b.Conditions = conditionsFromJSON(conditions)
	return &b, nil
}

const userBonusCols = `id, user_id, bonus_id, progress, total_required, starts_on, ends_on,
status, proof, reward_paid, created_at, updated_at`

func scanUserBonus(row rowScanner) (*UserBonus, error) {
	var ub UserBonus
	if err := row.Scan(
		&ub.ID, &ub.UserID, &ub.BonusID, &ub.Progress, &ub.TotalRequired, &ub.StartsOn, &ub.EndsOn,
		&ub.Status, &ub.Proof, &ub.RewardPaid, &ub.CreatedAt, &ub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ub, nil
}

// EnsureBonus inserts the catalog entry unless one with the same name already
// exists, so default seeding stays idempotent.
func (r *SQLiteStore) EnsureBonus(ctx context.Context, b Bonus) error {
	conditions, err := conditionsToJSON(b.Conditions)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO bonuses (id, name, description, reward_amount, requirement_type, conditions,
    duration_days, max_active, combinable, status, sort_order, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO NOTHING;`
	if _, err := r.db.ExecContext(ctx, q,
		newID(), b.Name, b.Description, b.RewardAmount, b.RequirementType, conditions,
		b.DurationDays, b.MaxActive, b.Combinable, b.Status, b.SortOrder, sqlNow()); err != nil {
		return mapSQLiteErr(err, "ensure bonus")
	}
	return nil
}

func (r *SQLiteStore) ListBonuses(ctx context.Context, onlyActive bool) ([]Bonus, error) {
	q := `SELECT ` + bonusCols + ` FROM bonuses`
	var args []any
	if onlyActive {
		q += ` WHERE status = ?`
		args = append(args, "active")
	}
	q += ` ORDER BY sort_order ASC, name ASC;`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLiteErr(err, "list bonuses")
	}
	defer rows.Close()

	var bonuses []Bonus
	for rows.Next() {
		b, err := scanBonus(rows)
		if err != nil {
			return nil, mapSQLiteErr(err, "scan bonus")
		}
		bonuses = append(bonuses, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate bonuses")
	}
	return bonuses, nil
}

func (r *SQLiteStore) GetBonus(ctx context.Context, id string) (*Bonus, error) {
	q := `SELECT ` + bonusCols + ` FROM bonuses WHERE id = ? LIMIT 1;`
	b, err := scanBonus(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapSQLiteErr(err, "get bonus")
	}
	return b, nil
}

func (r *SQLiteStore) CountActiveUserBonuses(ctx context.Context, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM user_bonuses WHERE user_id = ? AND status = ?;`
	var count int
	if err := r.db.QueryRowContext(ctx, q, userID, BonusStateActive).Scan(&count); err != nil {
		return 0, mapSQLiteErr(err, "count active bonuses")
	}
	return count, nil
}

func (r *SQLiteStore) GetNonTerminalUserBonus(ctx context.Context, userID, bonusID string) (*UserBonus, error) {
	q := `
SELECT ` + userBonusCols + `
FROM user_bonuses
WHERE user_id = ? AND bonus_id = ? AND status IN (?, ?)
LIMIT 1;`
	ub, err := scanUserBonus(r.db.QueryRowContext(ctx, q, userID, bonusID, BonusStateActive, BonusStatePendingReview))
	if err != nil {
		return nil, mapSQLiteErr(err, "get non-terminal activation")
	}
	return ub, nil
}

// CreateUserBonus re-checks the active cap inside the INSERT itself, so two
// racing activations cannot both slip past a prior count.
func (r *SQLiteStore) CreateUserBonus(ctx context.Context, ub UserBonus, activeCap int) (*UserBonus, error) {
	q := `
INSERT INTO user_bonuses (id, user_id, bonus_id, total_required, starts_on, ends_on, status, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE (SELECT COUNT(*) FROM user_bonuses WHERE user_id = ? AND status = ?) < ?
RETURNING ` + userBonusCols + `;`
	now := sqlNow()
	created, err := scanUserBonus(r.db.QueryRowContext(ctx, q,
		newID(), ub.UserID, ub.BonusID, ub.TotalRequired, ub.StartsOn, ub.EndsOn, BonusStateActive, now, now,
		ub.UserID, BonusStateActive, activeCap))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("create activation: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapSQLiteErr(err, "create activation")
	}
	return created, nil
}

func (r *SQLiteStore) GetUserBonus(ctx context.Context, id string) (*UserBonus, error) {
	q := `SELECT ` + userBonusCols + ` FROM user_bonuses WHERE id = ? LIMIT 1;`
	ub, err := scanUserBonus(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapSQLiteErr(err, "get activation")
	}
	return ub, nil
}

func (r *SQLiteStore) ListUserBonuses(ctx context.Context, userID string) ([]UserBonus, error) {
	q := `SELECT ` + userBonusCols + ` FROM user_bonuses WHERE user_id = ? ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list activations")
	}
	defer rows.Close()

	var items []UserBonus
	for rows.Next() {
		ub, err := scanUserBonus(rows)
		if err != nil {
			return nil, mapSQLiteErr(err, "scan activation")
		}
		items = append(items, *ub)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate activations")
	}
	return items, nil
}

func (r *SQLiteStore) IncrementBonusProgress(ctx context.Context, userBonusID string, delta int) (*UserBonus, error) {
	q := `
UPDATE user_bonuses
SET progress = progress + ?, updated_at = ?
WHERE id = ? AND status = ?
RETURNING ` + userBonusCols + `;`
	ub, err := scanUserBonus(r.db.QueryRowContext(ctx, q, delta, sqlNow(), userBonusID, BonusStateActive))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("increment progress: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapSQLiteErr(err, "increment progress")
	}
	return ub, nil
}

// SubmitBonusProof moves an activation to pending_review only from active.
func (r *SQLiteStore) SubmitBonusProof(ctx context.Context, userBonusID, proof string) (*UserBonus, error) {
	q := `
UPDATE user_bonuses
SET status = ?, proof = ?, updated_at = ?
WHERE id = ? AND status = ?
RETURNING ` + userBonusCols + `;`
	ub, err := scanUserBonus(r.db.QueryRowContext(ctx, q, BonusStatePendingReview, proof, sqlNow(), userBonusID, BonusStateActive))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("submit proof: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapSQLiteErr(err, "submit proof")
	}
	return ub, nil
}

// ApproveUserBonus resolves a pending_review activation positively and credits
// the reward in the same transaction, so a committed approval always carries
// its ledger entry. A second approval finds no matching row and fails cleanly
// before touching the balance.
func (r *SQLiteStore) ApproveUserBonus(ctx context.Context, userBonusID string, reward int64, action, details string) (*UserBonus, error) {
	var approved *UserBonus
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := sqlNow()
		q := `
UPDATE user_bonuses
SET status = ?, reward_paid = ?, updated_at = ?
WHERE id = ? AND status = ?
RETURNING ` + userBonusCols + `;`
		var err error
		approved, err = scanUserBonus(tx.QueryRowContext(ctx, q,
			BonusStateCompleted, reward > 0, now, userBonusID, BonusStatePendingReview))
		if err == sql.ErrNoRows {
			return fmt.Errorf("approve activation: %w", ErrUnavailable)
		}
		if err != nil {
			return mapSQLiteErr(err, "approve activation")
		}
		if reward <= 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE users
SET balance = balance + ?, total_earned = total_earned + ?, updated_at = ?
WHERE id = ?;`,
			reward, reward, now, approved.UserID); err != nil {
			return mapSQLiteErr(err, "credit bonus reward")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activity_log (id, user_id, action, details, created_at) VALUES (?, ?, ?, ?, ?);`,
			newID(), approved.UserID, action, details, now); err != nil {
			return mapSQLiteErr(err, "log bonus reward")
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
func (r *SQLiteStore) ReviewUserBonus(ctx context.Context, userBonusID, status string, rewardPaid bool) (*UserBonus, error) {
	q := `
UPDATE user_bonuses
SET status = ?, reward_paid = ?, updated_at = ?
WHERE id = ? AND status = ?
RETURNING ` + userBonusCols + `;`
	ub, err := scanUserBonus(r.db.QueryRowContext(ctx, q, status, rewardPaid, sqlNow(), userBonusID, BonusStatePendingReview))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review activation: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapSQLiteErr(err, "review activation")
	}
	return ub, nil
}
