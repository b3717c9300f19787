package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boardgame-bot/internal/repo"
)

// Canonical production stages seeded with every order.
var orderStageNames = []string{
	"Анкета",
	"Концепция",
	"Сюжет",
	"Механика",
	"Дизайн",
	"Верстка",
	"Производство",
	"Контроль качества",
	"Доставка",
}

// stageNames returns n stage names, extending the canonical list with numbered
// placeholders if the configured count exceeds it.
func stageNames(n int) []string {
	if n <= 0 {
		n = len(orderStageNames)
	}
	if n <= len(orderStageNames) {
		return orderStageNames[:n]
	}
	names := make([]string, 0, n)
	names = append(names, orderStageNames...)
	for i := len(orderStageNames) + 1; i <= n; i++ {
		names = append(names, fmt.Sprintf("Этап %d", i))
	}
	return names
}

// CreateOrder persists a completed questionnaire as a new order with its
// seeded stages. The admin notification snapshots contact details as they were
// at submission time.
func (e *Engine) CreateOrder(ctx context.Context, user *repo.User, form repo.OrderForm) (*repo.Order, error) {
	start := time.Now()
	order, err := e.createOrder(ctx, user, form)
	e.observe("create_order", start, err)
	return order, err
}

func (e *Engine) createOrder(ctx context.Context, user *repo.User, form repo.OrderForm) (*repo.Order, error) {
	names := stageNames(int(e.IntSetting(ctx, SettingOrderStageCount, int64(len(orderStageNames)))))

	var created *repo.Order
	var err error
	for attempt := 0; attempt < numberRetries; attempt++ {
		o := repo.Order{
			OrderNumber:   newNumber("ORD"),
			UserID:        user.ID,
			Occasion:      form.Occasion,
			Audience:      form.Audience,
			BudgetRange:   form.BudgetRange,
			PlayersRange:  form.PlayersRange,
			Emotions:      form.Emotions,
			GameBasis:     form.GameBasis,
			Source:        form.Source,
			PlayFrequency: form.PlayFrequency,
			Description:   form.Description,
		}
		created, err = e.store.CreateOrder(ctx, o, names)
		if errors.Is(err, repo.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if created == nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := e.store.InsertActivity(ctx, &user.ID, "order_created", created.OrderNumber); err != nil {
		e.logger.Warn("log order creation failed", "order_id", created.ID, "error", err)
	}
	e.logger.Info("order created", "order_id", created.ID, "number", created.OrderNumber)

	phone := "не указан"
	if user.Phone != nil {
		phone = *user.Phone
	}
	e.notifyAdmins(ctx, "new_order",
		fmt.Sprintf("Новый заказ %s\nКлиент: %s (id %d)\nТелефон: %s\nПовод: %s\nБюджет: %s",
			created.OrderNumber, user.DisplayName, user.TelegramID, phone, form.Occasion, form.BudgetRange),
		&created.ID)
	return created, nil
}

// UpdateStage flips one stage's completion and recomputes order progress. A
// stage completion notifies the owner when order notifications are enabled.
func (e *Engine) UpdateStage(ctx context.Context, orderID string, stageNumber int, completed bool, comment *string) (*repo.Order, error) {
	start := time.Now()
	order, err := e.updateStage(ctx, orderID, stageNumber, completed, comment)
	e.observe("update_stage", start, err)
	return order, err
}

func (e *Engine) updateStage(ctx context.Context, orderID string, stageNumber int, completed bool, comment *string) (*repo.Order, error) {
	order, stage, err := e.store.SetStageCompletion(ctx, orderID, stageNumber, completed, comment)
	if err != nil {
		return nil, err
	}
	if !completed {
		return order, nil
	}

	settings, err := e.store.GetUserSettings(ctx, order.UserID)
	if err != nil {
		e.logger.Warn("read user settings failed", "user_id", order.UserID, "error", err)
		return order, nil
	}
	if !settings.OrderNotifications {
		return order, nil
	}
	owner, err := e.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		e.logger.Warn("load order owner failed", "user_id", order.UserID, "error", err)
		return order, nil
	}

	e.notifyUser(ctx, owner, "order_stage_completed",
		fmt.Sprintf("Заказ %s: завершен этап «%s». Готовность: %d%%",
			order.OrderNumber, stage.Name, order.ProgressPercent),
		&order.ID)
	return order, nil
}

var validOrderStatuses = map[string]bool{
	repo.OrderStatusNew:       true,
	repo.OrderStatusActive:    true,
	repo.OrderStatusCompleted: true,
	repo.OrderStatusCancelled: true,
}

// orderTransitions lists the statuses an order may move to from each state.
// completed and cancelled are terminal.
var orderTransitions = map[string][]string{
	repo.OrderStatusNew:       {repo.OrderStatusActive, repo.OrderStatusCompleted, repo.OrderStatusCancelled},
	repo.OrderStatusActive:    {repo.OrderStatusCompleted, repo.OrderStatusCancelled},
	repo.OrderStatusCompleted: {},
	repo.OrderStatusCancelled: {},
}

func transitionAllowed(from, to string) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus transitions an order along the allowed status graph, recording
// the actor in the status history. Terminal orders reject further changes.
// The owner is notified regardless of preference for terminal states.
func (e *Engine) UpdateStatus(ctx context.Context, orderID, status string, adminID *string, note *string) (*repo.Order, error) {
	start := time.Now()
	order, err := e.updateStatus(ctx, orderID, status, adminID, note)
	e.observe("update_order_status", start, err)
	return order, err
}

func (e *Engine) updateStatus(ctx context.Context, orderID, status string, adminID *string, note *string) (*repo.Order, error) {
	if !validOrderStatuses[status] {
		return nil, fmt.Errorf("order status %q: %w", status, ErrInvalidInput)
	}
	current, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(current.Status, status) {
		return nil, fmt.Errorf("transition %s -> %s: %w", current.Status, status, repo.ErrUnavailable)
	}
	// The store re-checks the current status, so a concurrent transition
	// between the read above and this write fails instead of overwriting.
	order, err := e.store.UpdateOrderStatus(ctx, orderID, current.Status, status, adminID, note)
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertActivity(ctx, &order.UserID, "order_status_changed",
		fmt.Sprintf("%s -> %s", order.OrderNumber, status)); err != nil {
		e.logger.Warn("log status change failed", "order_id", orderID, "error", err)
	}

	owner, err := e.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		e.logger.Warn("load order owner failed", "user_id", order.UserID, "error", err)
		return order, nil
	}
	e.notifyUser(ctx, owner, "order_status_changed",
		fmt.Sprintf("Статус заказа %s изменен: %s", order.OrderNumber, statusLabel(status)),
		&order.ID)
	return order, nil
}

func statusLabel(status string) string {
	switch status {
	case repo.OrderStatusNew:
		return "новый"
	case repo.OrderStatusActive:
		return "в работе"
	case repo.OrderStatusCompleted:
		return "завершен"
	case repo.OrderStatusCancelled:
		return "отменен"
	default:
		return status
	}
}

// UpdatePrice quotes or re-quotes an order.
func (e *Engine) UpdatePrice(ctx context.Context, orderID string, price int64) error {
	start := time.Now()
	err := e.updatePrice(ctx, orderID, price)
	e.observe("update_order_price", start, err)
	return err
}

func (e *Engine) updatePrice(ctx context.Context, orderID string, price int64) error {
	if price < 0 {
		return fmt.Errorf("negative price: %w", ErrInvalidInput)
	}
	return e.store.UpdateOrderPrice(ctx, orderID, price)
}

// Tracker assembles the order tracking view: the order, its stages and its
// status history.
func (e *Engine) Tracker(ctx context.Context, orderID string) (*repo.OrderTracker, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	stages, err := e.store.OrderStages(ctx, orderID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.OrderHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &repo.OrderTracker{Order: *order, Stages: stages, History: history}, nil
}

// NudgeStaleOrders sends a single reminder for every non-terminal order that
// has seen no activity past the configured threshold. A notification lookup
// suppresses repeats. Returns the number of nudges sent.
func (e *Engine) NudgeStaleOrders(ctx context.Context) (int, error) {
	start := time.Now()
	sent, err := e.nudgeStaleOrders(ctx)
	e.observe("nudge_stale_orders", start, err)
	return sent, err
}

func (e *Engine) nudgeStaleOrders(ctx context.Context) (int, error) {
	hours := e.IntSetting(ctx, SettingStaleOrderHours, 48)
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	stale, err := e.store.ListStaleOrders(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, item := range stale {
		exists, err := e.store.NotificationExists(ctx, item.Order.UserID, "order_incomplete_reminder", item.Order.ID)
		if err != nil {
			e.logger.Warn("reminder lookup failed", "order_id", item.Order.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		owner := &repo.User{ID: item.Order.UserID, TelegramID: item.TelegramID}
		e.notifyUser(ctx, owner, "order_incomplete_reminder",
			fmt.Sprintf("Ваш заказ %s давно не обновлялся. Загляните в трекер или напишите нам.", item.Order.OrderNumber),
			&item.Order.ID)
		sent++
	}
	return sent, nil
}
