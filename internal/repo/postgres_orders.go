package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateOrder inserts the order, seeds its stage rows and appends the initial
// status history entry in one transaction.
func (r *PostgresStore) CreateOrder(ctx context.Context, o Order, stageNames []string) (*Order, error) {
	emotions, err := listToJSON(o.Emotions)
	if err != nil {
		return nil, err
	}
	var created *Order
	err = r.withTx(ctx, func(tx pgx.Tx) error {
		q := `
INSERT INTO orders (id, order_number, user_id, occasion, audience, budget_range, players_range,
    emotions, game_basis, source, play_frequency, description, total_stages, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + orderCols + `;`
		row := tx.QueryRow(ctx, q,
			newID(), o.OrderNumber, o.UserID, o.Occasion, o.Audience, o.BudgetRange, o.PlayersRange,
			emotions, o.GameBasis, o.Source, o.PlayFrequency, o.Description, len(stageNames), OrderStatusNew,
		)
		var err error
		created, err = scanOrder(row)
		if err != nil {
			return mapPgErr(err, "insert order")
		}
		for i, name := range stageNames {
			if _, err := tx.Exec(ctx,
				`INSERT INTO order_stages (id, order_id, stage_number, name) VALUES ($1, $2, $3, $4);`,
				newID(), created.ID, i+1, name); err != nil {
				return mapPgErr(err, "seed order stage")
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_status_history (id, order_id, status) VALUES ($1, $2, $3);`,
			newID(), created.ID, OrderStatusNew); err != nil {
			return mapPgErr(err, "insert status history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders WHERE id = $1 LIMIT 1;`
	o, err := scanOrder(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapPgErr(err, "get order")
	}
	return o, nil
}

func (r *PostgresStore) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders WHERE order_number = $1 LIMIT 1;`
	o, err := scanOrder(r.pool.QueryRow(ctx, q, number))
	if err != nil {
		return nil, mapPgErr(err, "get order by number")
	}
	return o, nil
}

func (r *PostgresStore) listOrders(ctx context.Context, where string, arg any) ([]Order, error) {
	q := `SELECT ` + orderCols + ` FROM orders WHERE ` + where + ` ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, mapPgErr(err, "list orders")
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapPgErr(err, "scan order")
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate orders")
	}
	return orders, nil
}

func (r *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.listOrders(ctx, "user_id = $1", userID)
}

func (r *PostgresStore) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	return r.listOrders(ctx, "status = $1", status)
}

func (r *PostgresStore) OrderStages(ctx context.Context, orderID string) ([]OrderStage, error) {
	const q = `
SELECT id, order_id, stage_number, name, starts_at, ends_at, completed, completed_at, comment
FROM order_stages
WHERE order_id = $1
ORDER BY stage_number ASC;`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, mapPgErr(err, "list order stages")
	}
	defer rows.Close()

	var stages []OrderStage
	for rows.Next() {
		var s OrderStage
		if err := rows.Scan(&s.ID, &s.OrderID, &s.StageNumber, &s.Name, &s.StartsAt, &s.EndsAt, &s.Completed, &s.CompletedAt, &s.Comment); err != nil {
			return nil, mapPgErr(err, "scan order stage")
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate order stages")
	}
	return stages, nil
}

func (r *PostgresStore) OrderHistory(ctx context.Context, orderID string) ([]StatusHistoryEntry, error) {
	const q = `
SELECT id, order_id, status, changed_by, note, created_at
FROM order_status_history
WHERE order_id = $1
ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, mapPgErr(err, "list order history")
	}
	defer rows.Close()

	var entries []StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.ChangedBy, &e.Note, &e.CreatedAt); err != nil {
			return nil, mapPgErr(err, "scan history entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate order history")
	}
	return entries, nil
}

// SetStageCompletion flips one stage and recomputes the order's derived
// progress fields from all of its stages in the same transaction. The updated
// stage row is returned alongside the order so callers see the stored name.
func (r *PostgresStore) SetStageCompletion(ctx context.Context, orderID string, stageNumber int, completed bool, comment *string) (*Order, *OrderStage, error) {
	var updated *Order
	var stage *OrderStage
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var completedAt *time.Time
		if completed {
			now := time.Now().UTC()
			completedAt = &now
		}
		stage = &OrderStage{}
		err := tx.QueryRow(ctx, `
UPDATE order_stages
SET completed = $3, completed_at = $4, comment = COALESCE($5, comment)
WHERE order_id = $1 AND stage_number = $2
RETURNING id, order_id, stage_number, name, starts_at, ends_at, completed, completed_at, comment;`,
			orderID, stageNumber, completed, completedAt, comment).Scan(
			&stage.ID, &stage.OrderID, &stage.StageNumber, &stage.Name, &stage.StartsAt, &stage.EndsAt,
			&stage.Completed, &stage.CompletedAt, &stage.Comment)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update stage: %w", ErrNotFound)
		}
		if err != nil {
			return mapPgErr(err, "update stage")
		}

		var done, total int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM order_stages WHERE order_id = $1 AND completed;`, orderID).Scan(&done); err != nil {
			return mapPgErr(err, "count completed stages")
		}
		if err := tx.QueryRow(ctx,
			`SELECT total_stages FROM orders WHERE id = $1;`, orderID).Scan(&total); err != nil {
			return mapPgErr(err, "read total stages")
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
SET current_stage = $2, progress_percent = $3, last_activity_at = NOW(), updated_at = NOW()
WHERE id = $1
RETURNING ` + orderCols + `;`
		row := tx.QueryRow(ctx, q, orderID, current, progress)
		updated, err = scanOrder(row)
		if err != nil {
			return mapPgErr(err, "recompute order progress")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, stage, nil
}

// UpdateOrderStatus transitions the order and appends the history entry
// atomically. The write is conditional on fromStatus so concurrent admins
// cannot race an order out of a terminal state. completed_at is stamped only
// when entering the completed state.
func (r *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID, fromStatus, status string, changedBy, note *string) (*Order, error) {
	var updated *Order
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		q := `
UPDATE orders
SET status = $2,
    completed_at = CASE WHEN $2 = 'completed' AND completed_at IS NULL THEN NOW() ELSE completed_at END,
    last_activity_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = $3
RETURNING ` + orderCols + `;`
		row := tx.QueryRow(ctx, q, orderID, status, fromStatus)
		var err error
		updated, err = scanOrder(row)
		if errors.Is(err, pgx.ErrNoRows) {
			var one int
			if checkErr := tx.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = $1;`, orderID).Scan(&one); checkErr != nil {
				return fmt.Errorf("update order status: %w", ErrNotFound)
			}
			return fmt.Errorf("update order status: %w", ErrUnavailable)
		}
		if err != nil {
			return mapPgErr(err, "update order status")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_status_history (id, order_id, status, changed_by, note) VALUES ($1, $2, $3, $4, $5);`,
			newID(), orderID, status, changedBy, note); err != nil {
			return mapPgErr(err, "insert status history")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresStore) UpdateOrderPrice(ctx context.Context, orderID string, price int64) error {
	const q = `UPDATE orders SET price = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, orderID, price)
	if err != nil {
		return mapPgErr(err, "update order price")
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update order price: %w", ErrNotFound)
	}
	return nil
}

// ListStaleOrders returns non-terminal orders with no activity since cutoff,
// paired with the owner's chat id.
func (r *PostgresStore) ListStaleOrders(ctx context.Context, cutoff time.Time) ([]StaleOrder, error) {
	q := `
SELECT ` + prefixCols("o", orderCols) + `, u.telegram_id
FROM orders o
JOIN users u ON u.id = o.user_id
WHERE o.status IN ('new', 'active') AND o.last_activity_at < $1
ORDER BY o.last_activity_at ASC;`
	rows, err := r.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, mapPgErr(err, "list stale orders")
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
			return nil, mapPgErr(err, "scan stale order")
		}
		o.Emotions = listFromJSON(emotions)
		result = append(result, StaleOrder{Order: o, TelegramID: chatID})
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err, "iterate stale orders")
	}
	return result, nil
}
