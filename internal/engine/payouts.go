package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"boardgame-bot/internal/repo"
)

// CreatePayoutRequest reserves the amount against the user's balance and files
// the request. Only the last four card digits ever reach storage.
func (e *Engine) CreatePayoutRequest(ctx context.Context, user *repo.User, amount int64, cardNumber, cardHolder string) (*repo.Payout, error) {
	start := time.Now()
	p, err := e.createPayoutRequest(ctx, user, amount, cardNumber, cardHolder)
	e.observe("create_payout", start, err)
	return p, err
}

func (e *Engine) createPayoutRequest(ctx context.Context, user *repo.User, amount int64, cardNumber, cardHolder string) (*repo.Payout, error) {
	minAmount := e.IntSetting(ctx, SettingMinPayoutAmount, 500)
	if amount < minAmount {
		return nil, fmt.Errorf("minimum is %d: %w", minAmount, ErrBelowMinimum)
	}
	last4 := cardLast4(cardNumber)
	if last4 == "" {
		return nil, fmt.Errorf("card number: %w", ErrInvalidInput)
	}

	var created *repo.Payout
	var err error
	for attempt := 0; attempt < numberRetries; attempt++ {
		created, err = e.store.CreatePayout(ctx, repo.Payout{
			Number:     newNumber("PAY"),
			UserID:     user.ID,
			Amount:     amount,
			CardLast4:  last4,
			CardHolder: cardHolder,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if created == nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}

	e.logger.Info("payout requested", "payout_id", created.ID, "number", created.Number, "amount", amount)
	e.notifyAdmins(ctx, "payout_requested",
		fmt.Sprintf("Заявка на выплату %s: %d руб. на карту **** %s (%s)",
			created.Number, amount, last4, user.DisplayName),
		&created.ID)
	return created, nil
}

// cardLast4 strips everything but digits and keeps the last four.
func cardLast4(card string) string {
	var digits strings.Builder
	for _, r := range card {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	s := digits.String()
	if len(s) < 4 {
		return ""
	}
	return s[len(s)-4:]
}

// ProcessPayout resolves a pending request exactly once. Approval keeps the
// reserved amount out of the balance permanently; rejection returns it.
func (e *Engine) ProcessPayout(ctx context.Context, payoutID, adminID string, approve bool, reason *string) (*repo.Payout, error) {
	start := time.Now()
	p, err := e.processPayout(ctx, payoutID, adminID, approve, reason)
	e.observe("process_payout", start, err)
	return p, err
}

func (e *Engine) processPayout(ctx context.Context, payoutID, adminID string, approve bool, reason *string) (*repo.Payout, error) {
	p, err := e.store.ProcessPayout(ctx, payoutID, adminID, approve, reason)
	if err != nil {
		return nil, err
	}

	action := "payout_rejected"
	if approve {
		action = "payout_completed"
	}
	if err := e.store.InsertActivity(ctx, &adminID, action, p.Number); err != nil {
		e.logger.Warn("log payout decision failed", "payout_id", p.ID, "error", err)
	}

	user, err := e.store.GetUserByID(ctx, p.UserID)
	if err != nil {
		e.logger.Warn("load payout owner failed", "user_id", p.UserID, "error", err)
		return p, nil
	}
	if approve {
		e.notifyUser(ctx, user, "payout_completed",
			fmt.Sprintf("Выплата %s на %d руб. выполнена.", p.Number, p.Amount),
			&p.ID)
	} else {
		msg := fmt.Sprintf("Заявка на выплату %s отклонена. Средства возвращены на баланс.", p.Number)
		if reason != nil && *reason != "" {
			msg = fmt.Sprintf("Заявка на выплату %s отклонена: %s. Средства возвращены на баланс.", p.Number, *reason)
		}
		e.notifyUser(ctx, user, "payout_rejected", msg, &p.ID)
	}
	return p, nil
}

// PendingPayouts lists requests awaiting a decision.
func (e *Engine) PendingPayouts(ctx context.Context) ([]repo.Payout, error) {
	return e.store.ListPayoutsByStatus(ctx, repo.PayoutStatusPending)
}
