package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func (r *PostgresStore) CreateSlot(ctx context.Context, date, timeOfDay string) (*ConsultationSlot, error) {
	const q = `
INSERT INTO consultation_slots (id, slot_date, slot_time)
VALUES ($1, $2, $3)
RETURNING id, slot_date, slot_time, is_available, booked_by, created_at;`
	var s ConsultationSlot
	err := r.pool.QueryRow(ctx, q, newID(), date, timeOfDay).
		Scan(&s.ID, &s.Date, &s.Time, &s.Available, &s.BookedBy, &s.CreatedAt)
	if err != nil {
		return nil, mapPgErr(err, "create slot")
	}
	return &s, nil
}

func (r *PostgresStore) ListOpenSlots(ctx context.Context) ([]ConsultationSlot, error) {
	const q = `
SELECT id, slot_date, slot_time, is_available, booked_by, created_at
FROM consultation_slots
WHERE is_available
ORDER BY slot_date ASC, slot_time ASC;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, mapPgErr(err, "list open slots")
	}
	defer rows.Close()

	var slots []ConsultationSlot
	for rows.Next() {
		var s ConsultationSlot
		if err := rows.Scan(&s.ID, &s.Date, &s.Time, &s.Available, &s.BookedBy, &s.CreatedAt); err != nil {
			return nil, mapPgErr(err, "scan slot")
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate slots")
	}
	return slots, nil
}

// BookSlot flips the slot to booked only if it is still available, then
// creates the consultation row. The conditional UPDATE is what makes
// concurrent bookings of the same slot resolve to exactly one winner.
func (r *PostgresStore) BookSlot(ctx context.Context, slotID string, c Consultation) (*Consultation, error) {
	var created *Consultation
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var date, timeOfDay string
		err := tx.QueryRow(ctx,
			`SELECT slot_date, slot_time FROM consultation_slots WHERE id = $1;`, slotID).Scan(&date, &timeOfDay)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("book slot: %w", ErrNotFound)
		}
		if err != nil {
			return mapPgErr(err, "load slot")
		}

		ct, err := tx.Exec(ctx,
			`UPDATE consultation_slots SET is_available = FALSE, booked_by = $1 WHERE id = $2 AND is_available;`,
			c.UserID, slotID)
		if err != nil {
			return mapPgErr(err, "claim slot")
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("book slot: %w", ErrUnavailable)
		}

		q := `
INSERT INTO consultations (id, number, user_id, slot_id, scheduled_date, scheduled_time,
    duration_minutes, price, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + consultationCols + `;`
		row := tx.QueryRow(ctx, q,
			newID(), c.Number, c.UserID, slotID, date, timeOfDay,
			c.DurationMinutes, c.Price, ConsultationStatusPending)
		created, err = scanConsultation(row)
		if err != nil {
			return mapPgErr(err, "insert consultation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresStore) GetConsultation(ctx context.Context, id string) (*Consultation, error) {
	q := `SELECT ` + consultationCols + ` FROM consultations WHERE id = $1 LIMIT 1;`
	c, err := scanConsultation(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapPgErr(err, "get consultation")
	}
	return c, nil
}

func (r *PostgresStore) ListConsultationsByUser(ctx context.Context, userID string) ([]Consultation, error) {
	q := `SELECT ` + consultationCols + ` FROM consultations WHERE user_id = $1 ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, mapPgErr(err, "list consultations")
	}
	defer rows.Close()

	var items []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, mapPgErr(err, "scan consultation")
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate consultations")
	}
	return items, nil
}

// ConfirmConsultationPayment is guarded on payment_confirmed so a second
// confirmation attempt fails instead of re-applying side effects.
func (r *PostgresStore) ConfirmConsultationPayment(ctx context.Context, consultationID, managerID string) (*Consultation, error) {
	q := `
UPDATE consultations
SET payment_confirmed = TRUE, status = $1, manager_id = $2, paid_amount = price, updated_at = NOW()
WHERE id = $3 AND NOT payment_confirmed
RETURNING ` + consultationCols + `;`
	c, err := scanConsultation(r.pool.QueryRow(ctx, q, ConsultationStatusConfirmed, managerID, consultationID))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists int
		if lookupErr := r.pool.QueryRow(ctx, `SELECT 1 FROM consultations WHERE id = $1;`, consultationID).Scan(&exists); errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("confirm payment: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("confirm payment: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapPgErr(err, "confirm payment")
	}
	return c, nil
}

// ListDueReminders selects confirmed, not yet reminded consultations on the
// given date, honouring the owner's reminder preference (default on).
func (r *PostgresStore) ListDueReminders(ctx context.Context, date string) ([]ReminderItem, error) {
	q := `
SELECT ` + prefixCols("c", consultationCols) + `, u.telegram_id
FROM consultations c
JOIN users u ON u.id = c.user_id
LEFT JOIN user_settings s ON s.user_id = c.user_id
WHERE c.status = $1 AND NOT c.reminder_sent AND c.scheduled_date = $2
  AND COALESCE(s.reminder_notifications, TRUE)
ORDER BY c.scheduled_time ASC;`
	rows, err := r.pool.Query(ctx, q, ConsultationStatusConfirmed, date)
	if err != nil {
		return nil, mapPgErr(err, "list due reminders")
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
			return nil, mapPgErr(err, "scan reminder")
		}
		items = append(items, ReminderItem{Consultation: c, TelegramID: chatID})
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate reminders")
	}
	return items, nil
}

// MarkReminderSent reports false when the flag was already set, which keeps
// reminder dispatch idempotent across scheduler ticks.
func (r *PostgresStore) MarkReminderSent(ctx context.Context, consultationID string) (bool, error) {
	const q = `UPDATE consultations SET reminder_sent = TRUE, updated_at = NOW() WHERE id = $1 AND NOT reminder_sent;`
	ct, err := r.pool.Exec(ctx, q, consultationID)
	if err != nil {
		return false, mapPgErr(err, "mark reminder sent")
	}
	return ct.RowsAffected() > 0, nil
}
