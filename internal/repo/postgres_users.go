package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateUser inserts the user row together with its default settings row.
func (r *PostgresStore) CreateUser(ctx context.Context, u User) (*User, error) {
	var created *User
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		q := `
INSERT INTO users (id, telegram_id, display_name, referral_code, referrer_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userCols + `;`
		row := tx.QueryRow(ctx, q, newID(), u.TelegramID, u.DisplayName, u.ReferralCode, u.ReferrerID)
		var err error
		created, err = scanUser(row)
		if err != nil {
			return mapPgErr(err, "insert user")
		}
		if _, err := tx.Exec(ctx, `INSERT INTO user_settings (user_id) VALUES ($1);`, created.ID); err != nil {
			return mapPgErr(err, "insert user settings")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	q := `SELECT ` + userCols + ` FROM users WHERE id = $1 LIMIT 1;`
	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapPgErr(err, "get user by id")
	}
	return u, nil
}

func (r *PostgresStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	q := `SELECT ` + userCols + ` FROM users WHERE telegram_id = $1 LIMIT 1;`
	u, err := scanUser(r.pool.QueryRow(ctx, q, telegramID))
	if err != nil {
		return nil, mapPgErr(err, "get user by telegram id")
	}
	return u, nil
}

func (r *PostgresStore) GetUserByReferralCode(ctx context.Context, code string) (*User, error) {
	q := `SELECT ` + userCols + ` FROM users WHERE referral_code = $1 LIMIT 1;`
	u, err := scanUser(r.pool.QueryRow(ctx, q, code))
	if err != nil {
		return nil, mapPgErr(err, "get user by referral code")
	}
	return u, nil
}

// UpdateUserProfile applies the whitelisted profile fields in one fixed
// statement. Returns false without touching the row when nothing was supplied.
func (r *PostgresStore) UpdateUserProfile(ctx context.Context, userID string, upd ProfileUpdate) (bool, error) {
	if upd.DisplayName == nil && upd.Phone == nil && upd.Email == nil && upd.City == nil && upd.EventDate == nil {
		return false, nil
	}
	const q = `
UPDATE users SET
    display_name = COALESCE($2, display_name),
    phone = COALESCE($3, phone),
    email = COALESCE($4, email),
    city = COALESCE($5, city),
    event_date = COALESCE($6, event_date),
    updated_at = NOW()
WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, userID, upd.DisplayName, upd.Phone, upd.Email, upd.City, upd.EventDate)
	if err != nil {
		return false, mapPgErr(err, "update profile")
	}
	if ct.RowsAffected() == 0 {
		return false, fmt.Errorf("update profile: %w", ErrNotFound)
	}
	return true, nil
}

func (r *PostgresStore) TouchLastActive(ctx context.Context, userID string) error {
	const q = `UPDATE users SET last_active_at = NOW() WHERE id = $1;`
	if _, err := r.pool.Exec(ctx, q, userID); err != nil {
		return mapPgErr(err, "touch last active")
	}
	return nil
}

func (r *PostgresStore) SetVIP(ctx context.Context, userID string, vip bool) error {
	const q = `UPDATE users SET is_vip = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, userID, vip)
	if err != nil {
		return mapPgErr(err, "set vip")
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set vip: %w", ErrNotFound)
	}
	return nil
}

// GetUserSettings returns stored preferences, or the defaults when the user
// has no settings row.
func (r *PostgresStore) GetUserSettings(ctx context.Context, userID string) (*UserSettings, error) {
	const q = `SELECT user_id, order_notifications, reminder_notifications, updated_at FROM user_settings WHERE user_id = $1 LIMIT 1;`
	var s UserSettings
	err := r.pool.QueryRow(ctx, q, userID).Scan(&s.UserID, &s.OrderNotifications, &s.ReminderNotifications, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &UserSettings{UserID: userID, OrderNotifications: true, ReminderNotifications: true}, nil
	}
	if err != nil {
		return nil, mapPgErr(err, "get user settings")
	}
	return &s, nil
}

func (r *PostgresStore) UpdateUserSettings(ctx context.Context, s UserSettings) error {
	const q = `
INSERT INTO user_settings (user_id, order_notifications, reminder_notifications, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    order_notifications = EXCLUDED.order_notifications,
    reminder_notifications = EXCLUDED.reminder_notifications,
    updated_at = NOW();`
	if _, err := r.pool.Exec(ctx, q, s.UserID, s.OrderNotifications, s.ReminderNotifications); err != nil {
		return mapPgErr(err, "update user settings")
	}
	return nil
}

// AdjustBalance is the single mutation point for the balance. The guard in the
// UPDATE refuses any delta that would leave the balance negative, and the
// audit entry commits in the same transaction.
func (r *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta int64, action, details string) (*User, error) {
	var credit int64
	if delta > 0 {
		credit = delta
	}
	var updated *User
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		q := `
UPDATE users
SET balance = balance + $2,
    total_earned = total_earned + $3,
    updated_at = NOW()
WHERE id = $1 AND balance + $2 >= 0
RETURNING ` + userCols + `;`
		row := tx.QueryRow(ctx, q, userID, delta, credit)
		var err error
		updated, err = scanUser(row)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists int
			if lookupErr := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1;`, userID).Scan(&exists); errors.Is(lookupErr, pgx.ErrNoRows) {
				return fmt.Errorf("adjust balance: %w", ErrNotFound)
			}
			return fmt.Errorf("adjust balance: %w", ErrInsufficientFunds)
		}
		if err != nil {
			return mapPgErr(err, "adjust balance")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO activity_log (id, user_id, action, details) VALUES ($1, $2, $3, $4);`,
			newID(), userID, action, details); err != nil {
			return mapPgErr(err, "log balance adjustment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresStore) ListUserChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT telegram_id FROM users ORDER BY created_at ASC;`)
	if err != nil {
		return nil, mapPgErr(err, "list user chat ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapPgErr(err, "scan user chat id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate user chat ids")
	}
	return ids, nil
}
