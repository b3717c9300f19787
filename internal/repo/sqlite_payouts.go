package repo

import (
	"context"
	"database/sql"
	"fmt"
)

const payoutCols = `id, number, user_id, amount, card_last4, card_holder, status,
processed_by, processed_at, reject_reason, created_at`

func scanPayout(row rowScanner) (*Payout, error) {
	var p Payout
	if err := row.Scan(
		&p.ID, &p.Number, &p.UserID, &p.Amount, &p.CardLast4, &p.CardHolder, &p.Status,
		&p.ProcessedBy, &p.ProcessedAt, &p.RejectReason, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayout reserves the requested amount (balance -> pending_earnings) and
// inserts the request row in one transaction. The reservation UPDATE re-checks
// the balance at write time.
func (r *SQLiteStore) CreatePayout(ctx context.Context, p Payout) (*Payout, error) {
	var created *Payout
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := sqlNow()
		ct, err := tx.ExecContext(ctx, `
UPDATE users
SET balance = balance - ?, pending_earnings = pending_earnings + ?, updated_at = ?
WHERE id = ? AND balance >= ?;`,
			p.Amount, p.Amount, now, p.UserID, p.Amount)
		if err != nil {
			return mapSQLiteErr(err, "reserve payout amount")
		}
		if n, _ := ct.RowsAffected(); n == 0 {
			var exists int
			if lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?;`, p.UserID).Scan(&exists); lookupErr == sql.ErrNoRows {
				return fmt.Errorf("create payout: %w", ErrNotFound)
			}
			return fmt.Errorf("create payout: %w", ErrInsufficientFunds)
		}

		q := `
INSERT INTO payouts (id, number, user_id, amount, card_last4, card_holder, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + payoutCols + `;`
		row := tx.QueryRowContext(ctx, q,
			newID(), p.Number, p.UserID, p.Amount, p.CardLast4, p.CardHolder, PayoutStatusPending, now)
		created, err = scanPayout(row)
		if err != nil {
			return mapSQLiteErr(err, "insert payout")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *SQLiteStore) GetPayout(ctx context.Context, id string) (*Payout, error) {
	q := `SELECT ` + payoutCols + ` FROM payouts WHERE id = ? LIMIT 1;`
	p, err := scanPayout(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapSQLiteErr(err, "get payout")
	}
	return p, nil
}

func (r *SQLiteStore) ListPayoutsByStatus(ctx context.Context, status string) ([]Payout, error) {
	q := `SELECT ` + payoutCols + ` FROM payouts WHERE status = ? ORDER BY created_at ASC;`
	rows, err := r.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, mapSQLiteErr(err, "list payouts")
	}
	defer rows.Close()

	var payouts []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, mapSQLiteErr(err, "scan payout")
		}
		payouts = append(payouts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate payouts")
	}
	return payouts, nil
}

// ProcessPayout resolves a pending request at most once. Approval only drains
// the reservation; rejection moves the reserved amount back to the balance.
func (r *SQLiteStore) ProcessPayout(ctx context.Context, payoutID, adminID string, approve bool, reason *string) (*Payout, error) {
	status := PayoutStatusRejected
	if approve {
		status = PayoutStatusCompleted
	}
	var processed *Payout
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := sqlNow()
		q := `
UPDATE payouts
SET status = ?, processed_by = ?, processed_at = ?, reject_reason = ?
WHERE id = ? AND status = ?
RETURNING ` + payoutCols + `;`
		row := tx.QueryRowContext(ctx, q, status, adminID, now, reason, payoutID, PayoutStatusPending)
		var err error
		processed, err = scanPayout(row)
		if err == sql.ErrNoRows {
			var exists int
			if lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM payouts WHERE id = ?;`, payoutID).Scan(&exists); lookupErr == sql.ErrNoRows {
				return fmt.Errorf("process payout: %w", ErrNotFound)
			}
			return fmt.Errorf("process payout: %w", ErrUnavailable)
		}
		if err != nil {
			return mapSQLiteErr(err, "process payout")
		}

		if approve {
			_, err = tx.ExecContext(ctx, `
UPDATE users
SET pending_earnings = pending_earnings - ?, updated_at = ?
WHERE id = ? AND pending_earnings >= ?;`,
				processed.Amount, now, processed.UserID, processed.Amount)
		} else {
			_, err = tx.ExecContext(ctx, `
UPDATE users
SET balance = balance + ?, pending_earnings = pending_earnings - ?, updated_at = ?
WHERE id = ? AND pending_earnings >= ?;`,
				processed.Amount, processed.Amount, now, processed.UserID, processed.Amount)
		}
		if err != nil {
			return mapSQLiteErr(err, "settle reservation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return processed, nil
}

const receiptCols = `id, user_id, order_id, consultation_id, amount, file_ref,
confirmed, confirmed_by, confirmed_at, created_at`

func scanReceipt(row rowScanner) (*Receipt, error) {
	var rc Receipt
	if err := row.Scan(
		&rc.ID, &rc.UserID, &rc.OrderID, &rc.ConsultationID, &rc.Amount, &rc.FileRef,
		&rc.Confirmed, &rc.ConfirmedBy, &rc.ConfirmedAt, &rc.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *SQLiteStore) CreateReceipt(ctx context.Context, rc Receipt) (*Receipt, error) {
	q := `
INSERT INTO receipts (id, user_id, order_id, consultation_id, amount, file_ref, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + receiptCols + `;`
	created, err := scanReceipt(r.db.QueryRowContext(ctx, q,
		newID(), rc.UserID, rc.OrderID, rc.ConsultationID, rc.Amount, rc.FileRef, sqlNow()))
	if err != nil {
		return nil, mapSQLiteErr(err, "insert receipt")
	}
	return created, nil
}

func (r *SQLiteStore) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	q := `SELECT ` + receiptCols + ` FROM receipts WHERE id = ? LIMIT 1;`
	rc, err := scanReceipt(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapSQLiteErr(err, "get receipt")
	}
	return rc, nil
}

// confirmReceiptTx flips the confirmed flag at most once inside the caller's
// transaction; the dependent mutation commits or rolls back with it.
func (r *SQLiteStore) confirmReceiptTx(ctx context.Context, tx *sql.Tx, receiptID, adminID string) (*Receipt, error) {
	q := `
UPDATE receipts
SET confirmed = 1, confirmed_by = ?, confirmed_at = ?
WHERE id = ? AND confirmed = 0
RETURNING ` + receiptCols + `;`
	rc, err := scanReceipt(tx.QueryRowContext(ctx, q, adminID, sqlNow(), receiptID))
	if err == sql.ErrNoRows {
		var exists int
		if lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM receipts WHERE id = ?;`, receiptID).Scan(&exists); lookupErr == sql.ErrNoRows {
			return nil, fmt.Errorf("confirm receipt: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("confirm receipt: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapSQLiteErr(err, "confirm receipt")
	}
	return rc, nil
}

// ConfirmConsultationReceipt confirms the receipt and the linked consultation's
// payment in one transaction; neither side commits without the other.
func (r *SQLiteStore) ConfirmConsultationReceipt(ctx context.Context, receiptID, adminID string) (*Receipt, *Consultation, error) {
	var rc *Receipt
	var c *Consultation
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rc, err = r.confirmReceiptTx(ctx, tx, receiptID, adminID)
		if err != nil {
			return err
		}
		if rc.ConsultationID == nil {
			return fmt.Errorf("receipt %s has no consultation: %w", receiptID, ErrNotFound)
		}
		q := `
UPDATE consultations
SET payment_confirmed = 1, status = ?, manager_id = ?, paid_amount = price, updated_at = ?
WHERE id = ? AND payment_confirmed = 0
RETURNING ` + consultationCols + `;`
		c, err = scanConsultation(tx.QueryRowContext(ctx, q, ConsultationStatusConfirmed, adminID, sqlNow(), *rc.ConsultationID))
		if err == sql.ErrNoRows {
			return fmt.Errorf("confirm linked consultation: %w", ErrUnavailable)
		}
		if err != nil {
			return mapSQLiteErr(err, "confirm linked consultation")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, c, nil
}

// ConfirmOrderReceipt confirms the receipt and applies its amount to the
// linked order's paid total in one transaction.
func (r *SQLiteStore) ConfirmOrderReceipt(ctx context.Context, receiptID, adminID string) (*Receipt, *Order, error) {
	var rc *Receipt
	var o *Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rc, err = r.confirmReceiptTx(ctx, tx, receiptID, adminID)
		if err != nil {
			return err
		}
		if rc.OrderID == nil {
			return fmt.Errorf("receipt %s has no order: %w", receiptID, ErrNotFound)
		}
		q := `
UPDATE orders
SET paid_amount = paid_amount + ?, updated_at = ?
WHERE id = ?
RETURNING ` + orderCols + `;`
		o, err = scanOrder(tx.QueryRowContext(ctx, q, rc.Amount, sqlNow(), *rc.OrderID))
		if err == sql.ErrNoRows {
			return fmt.Errorf("apply order payment: %w", ErrNotFound)
		}
		if err != nil {
			return mapSQLiteErr(err, "apply order payment")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, o, nil
}
