package repo

import (
	"context"
	"database/sql"
	"fmt"
)

const userCols = `id, telegram_id, display_name, phone, email, city, event_date,
referral_code, referrer_id, balance, pending_earnings, total_earned, is_vip,
created_at, updated_at, last_active_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.TelegramID, &u.DisplayName, &u.Phone, &u.Email, &u.City, &u.EventDate,
		&u.ReferralCode, &u.ReferrerID, &u.Balance, &u.PendingEarnings, &u.TotalEarned, &u.IsVIP,
		&u.CreatedAt, &u.UpdatedAt, &u.LastActiveAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts the user row together with its default settings row.
func (r *SQLiteStore) CreateUser(ctx context.Context, u User) (*User, error) {
	var created *User
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		q := `
INSERT INTO users (id, telegram_id, display_name, referral_code, referrer_id, created_at, updated_at, last_active_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + userCols + `;`
		now := sqlNow()
		row := tx.QueryRowContext(ctx, q, newID(), u.TelegramID, u.DisplayName, u.ReferralCode, u.ReferrerID, now, now, now)
		var err error
		created, err = scanUser(row)
		if err != nil {
			return mapSQLiteErr(err, "insert user")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_settings (user_id, updated_at) VALUES (?, ?);`, created.ID, now); err != nil {
			return mapSQLiteErr(err, "insert user settings")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	q := `SELECT ` + userCols + ` FROM users WHERE id = ? LIMIT 1;`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapSQLiteErr(err, "get user by id")
	}
	return u, nil
}

func (r *SQLiteStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	q := `SELECT ` + userCols + ` FROM users WHERE telegram_id = ? LIMIT 1;`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, telegramID))
	if err != nil {
		return nil, mapSQLiteErr(err, "get user by telegram id")
	}
	return u, nil
}

func (r *SQLiteStore) GetUserByReferralCode(ctx context.Context, code string) (*User, error) {
	q := `SELECT ` + userCols + ` FROM users WHERE referral_code = ? LIMIT 1;`
	u, err := scanUser(r.db.QueryRowContext(ctx, q, code))
	if err != nil {
		return nil, mapSQLiteErr(err, "get user by referral code")
	}
	return u, nil
}

// UpdateUserProfile applies the whitelisted profile fields in one fixed
// statement. Returns false without touching the row when nothing was supplied.
func (r *SQLiteStore) UpdateUserProfile(ctx context.Context, userID string, upd ProfileUpdate) (bool, error) {
	if upd.DisplayName == nil && upd.Phone == nil && upd.Email == nil && upd.City == nil && upd.EventDate == nil {
		return false, nil
	}
	const q = `
UPDATE users SET
    display_name = COALESCE(?, display_name),
    phone = COALESCE(?, phone),
    email = COALESCE(?, email),
    city = COALESCE(?, city),
    event_date = COALESCE(?, event_date),
    updated_at = ?
WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, upd.DisplayName, upd.Phone, upd.Email, upd.City, upd.EventDate, sqlNow(), userID)
	if err != nil {
		return false, mapSQLiteErr(err, "update profile")
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return false, fmt.Errorf("update profile: %w", ErrNotFound)
	}
	return true, nil
}

func (r *SQLiteStore) TouchLastActive(ctx context.Context, userID string) error {
	const q = `UPDATE users SET last_active_at = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, sqlNow(), userID); err != nil {
		return mapSQLiteErr(err, "touch last active")
	}
	return nil
}

func (r *SQLiteStore) SetVIP(ctx context.Context, userID string, vip bool) error {
	const q = `UPDATE users SET is_vip = ?, updated_at = ? WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, vip, sqlNow(), userID)
	if err != nil {
		return mapSQLiteErr(err, "set vip")
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return fmt.Errorf("set vip: %w", ErrNotFound)
	}
	return nil
}

// GetUserSettings returns stored preferences, or the defaults when the user
// has no settings row.
func (r *SQLiteStore) GetUserSettings(ctx context.Context, userID string) (*UserSettings, error) {
	const q = `SELECT user_id, order_notifications, reminder_notifications, updated_at FROM user_settings WHERE user_id = ? LIMIT 1;`
	var s UserSettings
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&s.UserID, &s.OrderNotifications, &s.ReminderNotifications, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return &UserSettings{UserID: userID, OrderNotifications: true, ReminderNotifications: true}, nil
	}
	if err != nil {
		return nil, mapSQLiteErr(err, "get user settings")
	}
	return &s, nil
}

func (r *SQLiteStore) UpdateUserSettings(ctx context.Context, s UserSettings) error {
	const q = `
INSERT INTO user_settings (user_id, order_notifications, reminder_notifications, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    order_notifications = excluded.order_notifications,
    reminder_notifications = excluded.reminder_notifications,
    updated_at = excluded.updated_at;`
	if _, err := r.db.ExecContext(ctx, q, s.UserID, s.OrderNotifications, s.ReminderNotifications, sqlNow()); err != nil {
		return mapSQLiteErr(err, "update user settings")
	}
	return nil
}

// AdjustBalance is the single mutation point for the balance. The guard in the
// UPDATE refuses any delta that would leave the balance negative, and the
// audit entry commits in the same transaction.
func (r *SQLiteStore) AdjustBalance(ctx context.Context, userID string, delta int64, action, details string) (*User, error) {
	var credit int64
	if delta > 0 {
		credit = delta
	}
	var updated *User
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		q := `
UPDATE users
SET balance = balance + ?,
    total_earned = total_earned + ?,
    updated_at = ?
WHERE id = ? AND balance + ? >= 0
RETURNING ` + userCols + `;`
		row := tx.QueryRowContext(ctx, q, delta, credit, sqlNow(), userID, delta)
		var err error
		updated, err = scanUser(row)
		if err == sql.ErrNoRows {
			var exists int
			if lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?;`, userID).Scan(&exists); lookupErr == sql.ErrNoRows {
				return fmt.Errorf("adjust balance: %w", ErrNotFound)
			}
			return fmt.Errorf("adjust balance: %w", ErrInsufficientFunds)
		}
		if err != nil {
			return mapSQLiteErr(err, "adjust balance")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activity_log (id, user_id, action, details, created_at) VALUES (?, ?, ?, ?, ?);`,
			newID(), userID, action, details, sqlNow()); err != nil {
			return mapSQLiteErr(err, "log balance adjustment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *SQLiteStore) ListUserChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT telegram_id FROM users ORDER BY created_at ASC;`)
	if err != nil {
		return nil, mapSQLiteErr(err, "list user chat ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLiteErr(err, "scan user chat id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate user chat ids")
	}
	return ids, nil
}
