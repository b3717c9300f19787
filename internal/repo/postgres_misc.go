package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// -- System settings --

func (r *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM system_settings WHERE key = $1 LIMIT 1;`
	var value string
	if err := r.pool.QueryRow(ctx, q, key).Scan(&value); err != nil {
		return "", mapPgErr(err, "get setting")
	}
	return value, nil
}

func (r *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO system_settings (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = NOW();`
	if _, err := r.pool.Exec(ctx, q, key, value); err != nil {
		return mapPgErr(err, "set setting")
	}
	return nil
}

func (r *PostgresStore) EnsureSetting(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO system_settings (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO NOTHING;`
	if _, err := r.pool.Exec(ctx, q, key, value); err != nil {
		return mapPgErr(err, "ensure setting")
	}
	return nil
}

// -- Activity log --

func (r *PostgresStore) InsertActivity(ctx context.Context, userID *string, action, details string) error {
	const q = `INSERT INTO activity_log (id, user_id, action, details) VALUES ($1, $2, $3, $4);`
	if _, err := r.pool.Exec(ctx, q, newID(), userID, action, details); err != nil {
		return mapPgErr(err, "insert activity")
	}
	return nil
}

func (r *PostgresStore) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, user_id, action, details, created_at
FROM activity_log
ORDER BY created_at DESC
LIMIT $1;`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, mapPgErr(err, "list activity")
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, mapPgErr(err, "scan activity")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate activity")
	}
	return entries, nil
}

// -- Notifications --

func (r *PostgresStore) InsertNotification(ctx context.Context, n Notification) (*Notification, error) {
	const q = `
INSERT INTO notifications (id, recipient, type, message, ref)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, recipient, type, message, ref, is_read, created_at;`
	var created Notification
	err := r.pool.QueryRow(ctx, q, newID(), n.Recipient, n.Type, n.Message, n.Ref).
		Scan(&created.ID, &created.Recipient, &created.Type, &created.Message, &created.Ref, &created.Read, &created.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err, "insert notification")
	}
	return &created, nil
}

func (r *PostgresStore) ListNotifications(ctx context.Context, recipient string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, recipient, type, message, ref, is_read, created_at
FROM notifications
WHERE recipient = $1
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, recipient, limit)
	if err != nil {
		return nil, mapPgErr(err, "list notifications")
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Type, &n.Message, &n.Ref, &n.Read, &n.CreatedAt); err != nil {
			return nil, mapPgErr(err, "scan notification")
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate notifications")
	}
	return items, nil
}

func (r *PostgresStore) MarkNotificationRead(ctx context.Context, id string) error {
	const q = `UPDATE notifications SET is_read = TRUE WHERE id = $1;`
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return mapPgErr(err, "mark notification read")
	}
	return nil
}

// NotificationExists supports duplicate suppression for one-shot nudges.
func (r *PostgresStore) NotificationExists(ctx context.Context, recipient, ntype, ref string) (bool, error) {
	const q = `SELECT 1 FROM notifications WHERE recipient = $1 AND type = $2 AND ref = $3 LIMIT 1;`
	var one int
	err := r.pool.QueryRow(ctx, q, recipient, ntype, ref).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapPgErr(err, "check notification")
	}
	return true, nil
}

// -- Broadcasts --

func (r *PostgresStore) InsertBroadcast(ctx context.Context, b Broadcast) (*Broadcast, error) {
	const q = `
INSERT INTO broadcasts (id, message, sent_by, recipient_count)
VALUES ($1, $2, $3, $4)
RETURNING id, message, sent_by, recipient_count, created_at;`
	var created Broadcast
	err := r.pool.QueryRow(ctx, q, newID(), b.Message, b.SentBy, b.RecipientCount).
		Scan(&created.ID, &created.Message, &created.SentBy, &created.RecipientCount, &created.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err, "insert broadcast")
	}
	return &created, nil
}

// -- Statistics --

func (r *PostgresStore) CollectStats(ctx context.Context) (*Stats, error) {
	s := &Stats{OrdersByStatus: map[string]int64{}}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users;`).Scan(&s.TotalUsers); err != nil {
		return nil, mapPgErr(err, "count users")
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(paid_amount), 0) FROM orders;`).
		Scan(&s.TotalOrders, &s.Revenue); err != nil {
		return nil, mapPgErr(err, "count orders")
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status;`)
	if err != nil {
		return nil, mapPgErr(err, "orders by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, mapPgErr(err, "scan order status count")
		}
		s.OrdersByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate order status counts")
	}

	var consultationsPaid int64
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN payment_confirmed THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(paid_amount), 0)
FROM consultations;`).Scan(&s.TotalConsultations, &s.ConfirmedConsultations, &consultationsPaid); err != nil {
		return nil, mapPgErr(err, "count consultations")
	}
	s.Revenue += consultationsPaid

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_bonuses WHERE status = $1;`, BonusStateActive).
		Scan(&s.ActiveBonuses); err != nil {
		return nil, mapPgErr(err, "count active bonuses")
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE status = $1;`, PayoutStatusPending).
		Scan(&s.PendingPayouts); err != nil {
		return nil, mapPgErr(err, "count pending payouts")
	}
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE status = $1;`, PayoutStatusCompleted).
		Scan(&s.PaidOutTotal); err != nil {
		return nil, mapPgErr(err, "sum paid out")
	}

	return s, nil
}

func (r *PostgresStore) TopReferrers(ctx context.Context, limit int) ([]ReferrerStat, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT u.id, u.display_name, COUNT(ref.id), u.total_earned
FROM users u
JOIN users ref ON ref.referrer_id = u.id
GROUP BY u.id, u.display_name, u.total_earned
ORDER BY COUNT(ref.id) DESC, u.total_earned DESC
LIMIT $1;`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, mapPgErr(err, "top referrers")
	}
	defer rows.Close()

	var stats []ReferrerStat
	for rows.Next() {
		var rs ReferrerStat
		if err := rows.Scan(&rs.UserID, &rs.DisplayName, &rs.ReferralCount, &rs.TotalEarned); err != nil {
			return nil, mapPgErr(err, "scan referrer stat")
		}
		stats = append(stats, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate referrer stats")
	}
	return stats, nil
}
