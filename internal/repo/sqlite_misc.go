package repo

import (
	"context"
	"database/sql"
)

// -- System settings --

func (r *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM system_settings WHERE key = ? LIMIT 1;`
	var value string
	if err := r.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		return "", mapSQLiteErr(err, "get setting")
	}
	return value, nil
}

func (r *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO system_settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`
	if _, err := r.db.ExecContext(ctx, q, key, value, sqlNow()); err != nil {
		return mapSQLiteErr(err, "set setting")
	}
	return nil
}

func (r *SQLiteStore) EnsureSetting(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO system_settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (key) DO NOTHING;`
	if _, err := r.db.ExecContext(ctx, q, key, value, sqlNow()); err != nil {
		return mapSQLiteErr(err, "ensure setting")
	}
	return nil
}

// -- Activity log --

func (r *SQLiteStore) InsertActivity(ctx context.Context, userID *string, action, details string) error {
	const q = `INSERT INTO activity_log (id, user_id, action, details, created_at) VALUES (?, ?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, newID(), userID, action, details, sqlNow()); err != nil {
		return mapSQLiteErr(err, "insert activity")
	}
	return nil
}

func (r *SQLiteStore) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, user_id, action, details, created_at
FROM activity_log
ORDER BY created_at DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, mapSQLiteErr(err, "list activity")
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, mapSQLiteErr(err, "scan activity")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate activity")
	}
	return entries, nil
}

// -- Notifications --

func (r *SQLiteStore) InsertNotification(ctx context.Context, n Notification) (*Notification, error) {
	const q = `
INSERT INTO notifications (id, recipient, type, message, ref, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id, recipient, type, message, ref, is_read, created_at;`
	var created Notification
	err := r.db.QueryRowContext(ctx, q, newID(), n.Recipient, n.Type, n.Message, n.Ref, sqlNow()).
		Scan(&created.ID, &created.Recipient, &created.Type, &created.Message, &created.Ref, &created.Read, &created.CreatedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "insert notification")
	}
	return &created, nil
}

func (r *SQLiteStore) ListNotifications(ctx context.Context, recipient string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, recipient, type, message, ref, is_read, created_at
FROM notifications
WHERE recipient = ?
ORDER BY created_at DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, recipient, limit)
	if err != nil {
		return nil, mapSQLiteErr(err, "list notifications")
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Type, &n.Message, &n.Ref, &n.Read, &n.CreatedAt); err != nil {
			return nil, mapSQLiteErr(err, "scan notification")
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate notifications")
	}
	return items, nil
}

func (r *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	const q = `UPDATE notifications SET is_read = 1 WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return mapSQLiteErr(err, "mark notification read")
	}
	return nil
}

// NotificationExists supports duplicate suppression for one-shot nudges.
func (r *SQLiteStore) NotificationExists(ctx context.Context, recipient, ntype, ref string) (bool, error) {
	const q = `SELECT 1 FROM notifications WHERE recipient = ? AND type = ? AND ref = ? LIMIT 1;`
	var one int
	err := r.db.QueryRowContext(ctx, q, recipient, ntype, ref).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, mapSQLiteErr(err, "check notification")
	}
	return true, nil
}

// -- Broadcasts --

func (r *SQLiteStore) InsertBroadcast(ctx context.Context, b Broadcast) (*Broadcast, error) {
	const q = `
INSERT INTO broadcasts (id, message, sent_by, recipient_count, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id, message, sent_by, recipient_count, created_at;`
	var created Broadcast
	err := r.db.QueryRowContext(ctx, q, newID(), b.Message, b.SentBy, b.RecipientCount, sqlNow()).
		Scan(&created.ID, &created.Message, &created.SentBy, &created.RecipientCount, &created.CreatedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "insert broadcast")
	}
	return &created, nil
}

// -- Statistics --

func (r *SQLiteStore) CollectStats(ctx context.Context) (*Stats, error) {
	s := &Stats{OrdersByStatus: map[string]int64{}}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users;`).Scan(&s.TotalUsers); err != nil {
		return nil, mapSQLiteErr(err, "count users")
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(paid_amount), 0) FROM orders;`).
		Scan(&s.TotalOrders, &s.Revenue); err != nil {
		return nil, mapSQLiteErr(err, "count orders")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status;`)
	if err != nil {
		return nil, mapSQLiteErr(err, "orders by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, mapSQLiteErr(err, "scan order status count")
		}
		s.OrdersByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate order status counts")
	}

	var consultationsPaid int64
	if err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN payment_confirmed = 1 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(paid_amount), 0)
FROM consultations;`).Scan(&s.TotalConsultations, &s.ConfirmedConsultations, &consultationsPaid); err != nil {
		return nil, mapSQLiteErr(err, "count consultations")
	}
	s.Revenue += consultationsPaid

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_bonuses WHERE status = ?;`, BonusStateActive).
		Scan(&s.ActiveBonuses); err != nil {
		return nil, mapSQLiteErr(err, "count active bonuses")
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payouts WHERE status = ?;`, PayoutStatusPending).
		Scan(&s.PendingPayouts); err != nil {
		return nil, mapSQLiteErr(err, "count pending payouts")
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE status = ?;`, PayoutStatusCompleted).
		Scan(&s.PaidOutTotal); err != nil {
		return nil, mapSQLiteErr(err, "sum paid out")
	}

	return s, nil
}

func (r *SQLiteStore) TopReferrers(ctx context.Context, limit int) ([]ReferrerStat, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT u.id, u.display_name, COUNT(ref.id), u.total_earned
FROM users u
JOIN users ref ON ref.referrer_id = u.id
GROUP BY u.id, u.display_name, u.total_earned
ORDER BY COUNT(ref.id) DESC, u.total_earned DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, mapSQLiteErr(err, "top referrers")
	}
	defer rows.Close()

	var stats []ReferrerStat
	for rows.Next() {
		var rs ReferrerStat
		if err := rows.Scan(&rs.UserID, &rs.DisplayName, &rs.ReferralCount, &rs.TotalEarned); err != nil {
			return nil, mapSQLiteErr(err, "scan referrer stat")
		}
		stats = append(stats, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate referrer stats")
	}
	return stats, nil
}
