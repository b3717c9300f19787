package repo

import (
	"context"
	"database/sql"
	"fmt"
)

const consultationCols = `id, number, user_id, slot_id, scheduled_date, scheduled_time,
duration_minutes, price, paid_amount, status, payment_confirmed, reminder_sent,
manager_id, notes, feedback, rating, converted_to_order, created_at, updated_at`

func scanConsultation(row rowScanner) (*Consultation, error) {
	var c Consultation
	if err := row.Scan(
		&c.ID, &c.Number, &c.UserID, &c.SlotID, &c.ScheduledDate, &c.ScheduledTime,
		&c.DurationMinutes, &c.Price, &c.PaidAmount, &c.Status, &c.PaymentConfirmed, &c.ReminderSent,
		&c.ManagerID, &c.Notes, &c.Feedback, &c.Rating, &c.ConvertedToOrder, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteStore) CreateSlot(ctx context.Context, date, timeOfDay string) (*ConsultationSlot, error) {
	const q = `
INSERT INTO consultation_slots (id, slot_date, slot_time, created_at)
VALUES (?, ?, ?, ?)
RETURNING id, slot_date, slot_time, is_available, booked_by, created_at;`
	var s ConsultationSlot
	err := r.db.QueryRowContext(ctx, q, newID(), date, timeOfDay, sqlNow()).
		Scan(&s.ID, &s.Date, &s.Time, &s.Available, &s.BookedBy, &s.CreatedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "create slot")
	}
	return &s, nil
}

func (r *SQLiteStore) ListOpenSlots(ctx context.Context) ([]ConsultationSlot, error) {
	const q = `
SELECT id, slot_date, slot_time, is_available, booked_by, created_at
FROM consultation_slots
WHERE is_available = 1
ORDER BY slot_date ASC, slot_time ASC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapSQLiteErr(err, "list open slots")
	}
	defer rows.Close()

	var slots []ConsultationSlot
	for rows.Next() {
		var s ConsultationSlot
		if err := rows.Scan(&s.ID, &s.Date, &s.Time, &s.Available, &s.BookedBy, &s.CreatedAt); err != nil {
			return nil, mapSQLiteErr(err, "scan slot")
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate slots")
	}
	return slots, nil
}

// BookSlot flips the slot to booked only if it is still available, then
// creates the consultation row. The conditional UPDATE is what makes
// concurrent bookings of the same slot resolve to exactly one winner.
func (r *SQLiteStore) BookSlot(ctx context.Context, slotID string, c Consultation) (*Consultation, error) {
	var created *Consultation
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var date, timeOfDay string
		err := tx.QueryRowContext(ctx,
			`SELECT slot_date, slot_time FROM consultation_slots WHERE id = ?;`, slotID).Scan(&date, &timeOfDay)
		if err == sql.ErrNoRows {
			return fmt.Errorf("book slot: %w", ErrNotFound)
		}
		if err != nil {
			return mapSQLiteErr(err, "load slot")
		}

		ct, err := tx.ExecContext(ctx,
			`UPDATE consultation_slots SET is_available = 0, booked_by = ? WHERE id = ? AND is_available = 1;`,
			c.UserID, slotID)
		if err != nil {
			return mapSQLiteErr(err, "claim slot")
		}
		if n, _ := ct.RowsAffected(); n == 0 {
			return fmt.Errorf("book slot: %w", ErrUnavailable)
		}

		now := sqlNow()
		q := `
INSERT INTO consultations (id, number, user_id, slot_id, scheduled_date, scheduled_time,
    duration_minutes, price, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + consultationCols + `;`
		row := tx.QueryRowContext(ctx, q,
			newID(), c.Number, c.UserID, slotID, date, timeOfDay,
			c.DurationMinutes, c.Price, ConsultationStatusPending, now, now)
		created, err = scanConsultation(row)
		if err != nil {
			return mapSQLiteErr(err, "insert consultation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *SQLiteStore) GetConsultation(ctx context.Context, id string) (*Consultation, error) {
	q := `SELECT ` + consultationCols + ` FROM consultations WHERE id = ? LIMIT 1;`
	c, err := scanConsultation(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapSQLiteErr(err, "get consultation")
	}
	return c, nil
}

func (r *SQLiteStore) ListConsultationsByUser(ctx context.Context, userID string) ([]Consultation, error) {
	q := `SELECT ` + consultationCols + ` FROM consultations WHERE user_id = ? ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list consultations")
	}
	defer rows.Close()

	var items []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, mapSQLiteErr(err, "scan consultation")
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate consultations")
	}
	return items, nil
}

// ConfirmConsultationPayment is guarded on payment_confirmed so a second
// confirmation attempt fails instead of re-applying side effects.
func (r *SQLiteStore) ConfirmConsultationPayment(ctx context.Context, consultationID, managerID string) (*Consultation, error) {
	q := `
UPDATE consultations
SET payment_confirmed = 1, status = ?, manager_id = ?, paid_amount = price, updated_at = ?
WHERE id = ? AND payment_confirmed = 0
RETURNING ` + consultationCols + `;`
	c, err := scanConsultation(r.db.QueryRowContext(ctx, q, ConsultationStatusConfirmed, managerID, sqlNow(), consultationID))
	if err == sql.ErrNoRows {
		var exists int
		if lookupErr := r.db.QueryRowContext(ctx, `SELECT 1 FROM consultations WHERE id = ?;`, consultationID).Scan(&exists); lookupErr == sql.ErrNoRows {
			return nil, fmt.Errorf("confirm payment: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("confirm payment: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapSQLiteErr(err, "confirm payment")
	}
	return c, nil
}

// ListDueReminders selects confirmed, not yet reminded consultations on the
// given date, honouring the owner's reminder preference (default on).
func (r *SQLiteStore) ListDueReminders(ctx context.Context, date string) ([]ReminderItem, error) {
	q := `
SELECT ` + prefixCols("c", consultationCols) + `, u.telegram_id
FROM consultations c
JOIN users u ON u.id = c.user_id
LEFT JOIN user_settings s ON s.user_id = c.user_id
WHERE c.status = ? AND c.reminder_sent = 0 AND c.scheduled_date = ?
  AND COALESCE(s.reminder_notifications, 1) = 1
ORDER BY c.scheduled_time ASC;`
	rows, err := r.db.QueryContext(ctx, q, ConsultationStatusConfirmed, date)
	if err != nil {
		return nil, mapSQLiteErr(err, "list due reminders")
	}
	defer rows.Close()

	var items []ReminderItem
	for rows.Next() {
		var c Consultation
		var chatID int64
		if err := rows.Scan(
			&c.ID, &c.Number, &c.UserID, &c.SlotID, &c.ScheduledDate, &c.ScheduledTime,
			&c.DurationMinutes, &c.Price, &c.PaidAmount, &c.Status, &c.PaymentConfirmed, &c.ReminderSent,
			&c.ManagerID, &c.Notes, &c.Feedback, &c.Rating, &c.ConvertedToOrder, &c.CreatedAt, &c.UpdatedAt,
			&chatID,
		); err != nil {
			return nil, mapSQLiteErr(err, "scan reminder")
		}
		items = append(items, ReminderItem{Consultation: c, TelegramID: chatID})
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate reminders")
	}
	return items, nil
}

// MarkReminderSent reports false when the flag was already set, which keeps
// reminder dispatch idempotent across scheduler ticks.
func (r *SQLiteStore) MarkReminderSent(ctx context.Context, consultationID string) (bool, error) {
	const q = `UPDATE consultations SET reminder_sent = 1, updated_at = ? WHERE id = ? AND reminder_sent = 0;`
	ct, err := r.db.ExecContext(ctx, q, sqlNow(), consultationID)
	if err != nil {
		return false, mapSQLiteErr(err, "mark reminder sent")
	}
	n, _ := ct.RowsAffected()
	return n > 0, nil
}
