package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const orderCols = `id, order_number, user_id, occasion, audience, budget_range, players_range,
emotions, game_basis, source, play_frequency, description, price, paid_amount, discount_percent,
current_stage, total_stages, progress_percent, status, manager_id, deadline,
started_at, last_activity_at, completed_at, created_at, updated_at`

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var emotions string
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Occasion, &o.Audience, &o.BudgetRange, &o.PlayersRange,
		&emotions, &o.GameBasis, &o.Source, &o.PlayFrequency, &o.Description, &o.Price, &o.PaidAmount, &o.DiscountPercent,
		&o.CurrentStage, &o.TotalStages, &o.ProgressPercent, &o.Status, &o.ManagerID, &o.Deadline,
		&o.StartedAt, &o.LastActivityAt, &o.CompletedAt, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Emotions = listFromJSON(emotions)
	return &o, nil
}

// CreateOrder inserts the order, seeds its stage rows and appends the initial
// status history entry in one transaction.
func (r *SQLiteStore) CreateOrder(ctx context.Context, o Order, stageNames []string) (*Order, error) {
	emotions, err := listToJSON(o.Emotions)
	if err != nil {
		return nil, err
	}
	var created *Order
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		now := sqlNow()
		q := `
INSERT INTO orders (id, order_number, user_id, occasion, audience, budget_range, players_range,
    emotions, game_basis, source, play_frequency, description, total_stages, status,
    started_at, last_activity_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + orderCols + `;`
		row := tx.QueryRowContext(ctx, q,
			newID(), o.OrderNumber, o.UserID, o.Occasion, o.Audience, o.BudgetRange, o.PlayersRange,
			emotions, o.GameBasis, o.Source, o.PlayFrequency, o.Description, len(stageNames), OrderStatusNew,
			now, now, now, now,
		)
		var err error
		created, err = scanOrder(row)
		if err != nil {
			return mapSQLiteErr(err, "insert order")
		}
		for i, name := range stageNames {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO order_stages (id, order_id, stage_number, name) VALUES (?, ?, ?, ?);`,
				newID(), created.ID, i+1, name); err != nil {
				return mapSQLiteErr(err, "seed order stage")
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_status_history (id, order_id, status, created_at) VALUES (?, ?, ?, ?);`,
			newID(), created.ID, OrderStatusNew, now); err != nil {
			return mapSQLiteErr(err, "insert status history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *SQLiteStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders WHERE id = ? LIMIT 1;`
	o, err := scanOrder(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapSQLiteErr(err, "get order")
	}
	return o, nil
}

func (r *SQLiteStore) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders WHERE order_number = ? LIMIT 1;`
	o, err := scanOrder(r.db.QueryRowContext(ctx, q, number))
	if err != nil {
		return nil, mapSQLiteErr(err, "get order by number")
	}
	return o, nil
}

func (r *SQLiteStore) listOrders(ctx context.Context, where string, arg any) ([]Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders WHERE ` + where + ` ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, mapSQLiteErr(err, "list orders")
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapSQLiteErr(err, "scan order")
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate orders")
	}
	return orders, nil
}

func (r *SQLiteStore) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.listOrders(ctx, "user_id = ?", userID)
}

func (r *SQLiteStore) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	return r.listOrders(ctx, "status = ?", status)
}

func (r *SQLiteStore) OrderStages(ctx context.Context, orderID string) ([]OrderStage, error) {
	const q = `
SELECT id, order_id, stage_number, name, starts_at, ends_at, completed, completed_at, comment
FROM order_stages
WHERE order_id = ?
ORDER BY stage_number ASC;`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list order stages")
	}
	defer rows.Close()

	var stages []OrderStage
	for rows.Next() {
		var s OrderStage
		if err := rows.Scan(&s.ID, &s.OrderID, &s.StageNumber, &s.Name, &s.StartsAt, &s.EndsAt, &s.Completed, &s.CompletedAt, &s.Comment); err != nil {
			return nil, mapSQLiteErr(err, "scan order stage")
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate order stages")
	}
	return stages, nil
}

func (r *SQLiteStore) OrderHistory(ctx context.Context, orderID string) ([]StatusHistoryEntry, error) {
	const q = `
SELECT id, order_id, status, changed_by, note, created_at
FROM order_status_history
WHERE order_id = ?
ORDER BY created_at ASC;`
	rows, err := r.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list order history")
	}
	defer rows.Close()

	var entries []StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.ChangedBy, &e.Note, &e.CreatedAt); err != nil {
			return nil, mapSQLiteErr(err, "scan history entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate order history")
	}
	return entries, nil
}

// SetStageCompletion flips one stage and recomputes the order's derived
// progress fields from all of its stages in the same transaction. The updated
// stage row is returned alongside the order so callers see the stored name.
func (r *SQLiteStore) SetStageCompletion(ctx context.Context, orderID string, stageNumber int, completed bool, comment *string) (*Order, *OrderStage, error) {
	var updated *Order
	var stage *OrderStage
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := sqlNow()
		var completedAt any
		if completed {
			completedAt = now
		}
		stage = &OrderStage{}
		err := tx.QueryRowContext(ctx, `
UPDATE order_stages
SET completed = ?, completed_at = ?, comment = COALESCE(?, comment)
WHERE order_id = ? AND stage_number = ?
RETURNING id, order_id, stage_number, name, starts_at, ends_at, completed, completed_at, comment;`,
			completed, completedAt, comment, orderID, stageNumber).Scan(
			&stage.ID, &stage.OrderID, &stage.StageNumber, &stage.Name, &stage.StartsAt, &stage.EndsAt,
			&stage.Completed, &stage.CompletedAt, &stage.Comment)
		if err == sql.ErrNoRows {
			return fmt.Errorf("update stage: %w", ErrNotFound)
		}
		if err != nil {
			return mapSQLiteErr(err, "update stage")
		}

		var done, total int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM order_stages WHERE order_id = ? AND completed = 1;`, orderID).Scan(&done); err != nil {
			return mapSQLiteErr(err, "count completed stages")
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT total_stages FROM orders WHERE id = ?;`, orderID).Scan(&total); err != nil {
			return mapSQLiteErr(err, "read total stages")
		}

		progress := 0
		if total > 0 {
			progress = done * 100 / total
		}
		current := done + 1
		if current > total {
			current = total
		}

		q := `
UPDATE orders
SET current_stage = ?, progress_percent = ?, last_activity_at = ?, updated_at = ?
WHERE id = ?
RETURNING ` + orderCols + `;`
		row := tx.QueryRowContext(ctx, q, current, progress, now, now, orderID)
		updated, err = scanOrder(row)
		if err != nil {
			return mapSQLiteErr(err, "recompute order progress")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, stage, nil
}

// UpdateOrderStatus transitions the order and appends the history entry
// atomically. The guard on the current status makes the transition a single
// conditional write, so a racing transition from a state the order already
// left fails instead of applying. completed_at is stamped only when entering
// the completed state.
func (r *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID, fromStatus, status string, changedBy, note *string) (*Order, error) {
	var updated *Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := sqlNow()
		q := `
UPDATE orders
SET status = ?,
    completed_at = CASE WHEN ? = 'completed' AND completed_at IS NULL THEN ? ELSE completed_at END,
    last_activity_at = ?,
    updated_at = ?
WHERE id = ? AND status = ?
RETURNING ` + orderCols + `;`
		row := tx.QueryRowContext(ctx, q, status, status, now, now, now, orderID, fromStatus)
		var err error
		updated, err = scanOrder(row)
		if err == sql.ErrNoRows {
			var exists int
			if lookupErr := tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?;`, orderID).Scan(&exists); lookupErr == sql.ErrNoRows {
				return fmt.Errorf("update order status: %w", ErrNotFound)
			}
			return fmt.Errorf("update order status: %w", ErrUnavailable)
		}
		if err != nil {
			return mapSQLiteErr(err, "update order status")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_status_history (id, order_id, status, changed_by, note, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
			newID(), orderID, status, changedBy, note, now); err != nil {
			return mapSQLiteErr(err, "insert status history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *SQLiteStore) UpdateOrderPrice(ctx context.Context, orderID string, price int64) error {
	const q = `UPDATE orders SET price = ?, updated_at = ? WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, price, sqlNow(), orderID)
	if err != nil {
		return mapSQLiteErr(err, "update order price")
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return fmt.Errorf("update order price: %w", ErrNotFound)
	}
	return nil
}

// ListStaleOrders returns non-terminal orders with no activity since cutoff,
// paired with the owner's chat id.
func (r *SQLiteStore) ListStaleOrders(ctx context.Context, cutoff time.Time) ([]StaleOrder, error) {
	q := `
SELECT ` + prefixCols("o", orderCols) + `, u.telegram_id
FROM orders o
JOIN users u ON u.id = o.user_id
WHERE o.status IN ('new', 'active') AND o.last_activity_at < ?
ORDER BY o.last_activity_at ASC;`
	rows, err := r.db.QueryContext(ctx, q, cutoff.UTC().Format(sqlTimeLayout))
	if err != nil {
		return nil, mapSQLiteErr(err, "list stale orders")
	}
	defer rows.Close()

	var result []StaleOrder
	for rows.Next() {
		var o Order
		var emotions string
		var chatID int64
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.UserID, &o.Occasion, &o.Audience, &o.BudgetRange, &o.PlayersRange,
			&emotions, &o.GameBasis, &o.Source, &o.PlayFrequency, &o.Description, &o.Price, &o.PaidAmount, &o.DiscountPercent,
			&o.CurrentStage, &o.TotalStages, &o.ProgressPercent, &o.Status, &o.ManagerID, &o.Deadline,
			&o.StartedAt, &o.LastActivityAt, &o.CompletedAt, &o.CreatedAt, &o.UpdatedAt,
			&chatID,
		); err != nil {
			return nil, mapSQLiteErr(err, "scan stale order")
		}
		o.Emotions = listFromJSON(emotions)
		result = append(result, StaleOrder{Order: o, TelegramID: chatID})
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate stale orders")
	}
	return result, nil
}
