package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreatePayout reserves the requested amount (balance -> pending_earnings) and
// inserts the request row in one transaction. The reservation UPDATE re-checks
// the balance at write time.
func (r *PostgresStore) CreatePayout(ctx context.Context, p Payout) (*Payout, error) {
	var created *Payout
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
UPDATE users
SET balance = balance - $1, pending_earnings = pending_earnings + $1, updated_at = NOW()
WHERE id = $2 AND balance >= $1;`,
			p.Amount, p.UserID)
		if err != nil {
			return mapPgErr(err, "reserve payout amount")
		}
		if ct.RowsAffected() == 0 {
			var exists int
			if lookupErr := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1;`, p.UserID).Scan(&exists); errors.Is(lookupErr, pgx.ErrNoRows) {
				return fmt.Errorf("create payout: %w", ErrNotFound)
			}
			return fmt.Errorf("create payout: %w", ErrInsufficientFunds)
		}

		q := `
INSERT INTO payouts (id, number, user_id, amount, card_last4, card_holder, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + payoutCols + `;`
		row := tx.QueryRow(ctx, q,
			newID(), p.Number, p.UserID, p.Amount, p.CardLast4, p.CardHolder, PayoutStatusPending)
		created, err = scanPayout(row)
		if err != nil {
			return mapPgErr(err, "insert payout")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresStore) GetPayout(ctx context.Context, id string) (*Payout, error) {
	q := `SELECT ` + payoutCols + ` FROM payouts WHERE id = $1 LIMIT 1;`
	p, err := scanPayout(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapPgErr(err, "get payout")
	}
	return p, nil
}

func (r *PostgresStore) ListPayoutsByStatus(ctx context.Context, status string) ([]Payout, error) {
	q := `SELECT ` + payoutCols + ` FROM payouts WHERE status = $1 ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, q, status)
	if err != nil {
		return nil, mapPgErr(err, "list payouts")
	}
	defer rows.Close()

	var payouts []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, mapPgErr(err, "scan payout")
		}
		payouts = append(payouts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate payouts")
	}
	return payouts, nil
}

// ProcessPayout resolves a pending request at most once. Approval only drains
// the reservation; rejection moves the reserved amount back to the balance.
func (r *PostgresStore) ProcessPayout(ctx context.Context, payoutID, adminID string, approve bool, reason *string) (*Payout, error) {
	status := PayoutStatusRejected
	if approve {
		status = PayoutStatusCompleted
	}
	var processed *Payout
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		q := `
UPDATE payouts
SET status = $1, processed_by = $2, processed_at = NOW(), reject_reason = $3
WHERE id = $4 AND status = $5
RETURNING ` + payoutCols + `;`
		row := tx.QueryRow(ctx, q, status, adminID, reason, payoutID, PayoutStatusPending)
		var err error
		processed, err = scanPayout(row)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists int
			if lookupErr := tx.QueryRow(ctx, `SELECT 1 FROM payouts WHERE id = $1;`, payoutID).Scan(&exists); errors.Is(lookupErr, pgx.ErrNoRows) {
				return fmt.Errorf("process payout: %w", ErrNotFound)
			}
			return fmt.Errorf("process payout: %w", ErrUnavailable)
		}
		if err != nil {
			return mapPgErr(err, "process payout")
		}

		if approve {
			_, err = tx.Exec(ctx, `
UPDATE users
SET pending_earnings = pending_earnings - $1, updated_at = NOW()
WHERE id = $2 AND pending_earnings >= $1;`,
				processed.Amount, processed.UserID)
		} else {
			_, err = tx.Exec(ctx, `
UPDATE users
SET balance = balance + $1, pending_earnings = pending_earnings - $1, updated_at = NOW()
WHERE id = $2 AND pending_earnings >= $1;`,
				processed.Amount, processed.UserID)
		}
		if err != nil {
			return mapPgErr(err, "settle reservation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return processed, nil
}

func (r *PostgresStore) CreateReceipt(ctx context.Context, rc Receipt) (*Receipt, error) {
	q := `
INSERT INTO receipts (id, user_id, order_id, consultation_id, amount, file_ref)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + receiptCols + `;`
	created, err := scanReceipt(r.pool.QueryRow(ctx, q,
		newID(), rc.UserID, rc.OrderID, rc.ConsultationID, rc.Amount, rc.FileRef))
	if err != nil {
		return nil, mapPgErr(err, "insert receipt")
	}
	return created, nil
}

func (r *PostgresStore) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	q := `SELECT ` + receiptCols + ` FROM receipts WHERE id = $1 LIMIT 1;`
	rc, err := scanReceipt(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapPgErr(err, "get receipt")
	}
	return rc, nil
}

// confirmReceiptTx flips the confirmed flag at most once inside the caller's
// transaction so the linked mutation commits or rolls back together with it.
func (r *PostgresStore) confirmReceiptTx(ctx context.Context, tx pgx.Tx, receiptID, adminID string) (*Receipt, error) {
	q := `
UPDATE receipts
SET confirmed = TRUE, confirmed_by = $1, confirmed_at = NOW()
WHERE id = $2 AND NOT confirmed
RETURNING ` + receiptCols + `;`
	rc, err := scanReceipt(tx.QueryRow(ctx, q, adminID, receiptID))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists int
		if lookupErr := tx.QueryRow(ctx, `SELECT 1 FROM receipts WHERE id = $1;`, receiptID).Scan(&exists); errors.Is(lookupErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("confirm receipt: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("confirm receipt: %w", ErrUnavailable)
	}
	if err != nil {
		return nil, mapPgErr(err, "confirm receipt")
	}
	return rc, nil
}

// ConfirmConsultationReceipt confirms the receipt and the consultation it pays
// for in one transaction. A failure on either side rolls back both, so a
// retried confirmation starts from a clean state.
func (r *PostgresStore) ConfirmConsultationReceipt(ctx context.Context, receiptID, adminID string) (*Receipt, *Consultation, error) {
	var rc *Receipt
	var c *Consultation
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		rc, err = r.confirmReceiptTx(ctx, tx, receiptID, adminID)
		if err != nil {
			return err
		}
		if rc.ConsultationID == nil {
			return fmt.Errorf("confirm linked consultation: %w", ErrNotFound)
		}
		q := `
UPDATE consultations
SET payment_confirmed = TRUE, status = $1, manager_id = $2, paid_amount = price, updated_at = NOW()
WHERE id = $3 AND NOT payment_confirmed
RETURNING ` + consultationCols + `;`
		c, err = scanConsultation(tx.QueryRow(ctx, q, ConsultationStatusConfirmed, adminID, *rc.ConsultationID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("confirm linked consultation: %w", ErrUnavailable)
		}
		if err != nil {
			return mapPgErr(err, "confirm linked consultation")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, c, nil
}

// ConfirmOrderReceipt confirms the receipt and applies the payment to the
// linked order in one transaction.
func (r *PostgresStore) ConfirmOrderReceipt(ctx context.Context, receiptID, adminID string) (*Receipt, *Order, error) {
	var rc *Receipt
	var o *Order
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		rc, err = r.confirmReceiptTx(ctx, tx, receiptID, adminID)
		if err != nil {
			return err
		}
		if rc.OrderID == nil {
			return fmt.Errorf("apply order payment: %w", ErrNotFound)
		}
		q := `
UPDATE orders
SET paid_amount = paid_amount + $1, updated_at = NOW()
WHERE id = $2
RETURNING ` + orderCols + `;`
		o, err = scanOrder(tx.QueryRow(ctx, q, rc.Amount, *rc.OrderID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("apply order payment: %w", ErrNotFound)
		}
		if err != nil {
			return mapPgErr(err, "apply order payment")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rc, o, nil
}
