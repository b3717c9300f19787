package engine

import (
	"context"
	"fmt"
	"time"

	"boardgame-bot/internal/repo"
)

// SubmitReceipt files a proof-of-payment linked to exactly one of an order or
// a consultation.
func (e *Engine) SubmitReceipt(ctx context.Context, userID string, orderID, consultationID *string, amount int64, fileRef *string) (*repo.Receipt, error) {
	start := time.Now()
	rc, err := e.submitReceipt(ctx, userID, orderID, consultationID, amount, fileRef)
	e.observe("submit_receipt", start, err)
	return rc, err
}

func (e *Engine) submitReceipt(ctx context.Context, userID string, orderID, consultationID *string, amount int64, fileRef *string) (*repo.Receipt, error) {
	if (orderID == nil) == (consultationID == nil) {
		return nil, fmt.Errorf("receipt must reference exactly one of order or consultation: %w", ErrInvalidInput)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("receipt amount: %w", ErrInvalidInput)
	}

	rc, err := e.store.CreateReceipt(ctx, repo.Receipt{
		UserID:         userID,
		OrderID:        orderID,
		ConsultationID: consultationID,
		Amount:         amount,
		FileRef:        fileRef,
	})
	if err != nil {
		return nil, err
	}

	subject := "заказу"
	if consultationID != nil {
		subject = "консультации"
	}
	e.notifyAdmins(ctx, "receipt_submitted",
		fmt.Sprintf("Получен чек на %d руб. по %s. Требуется подтверждение.", amount, subject),
		&rc.ID)
	return rc, nil
}

// ConfirmReceipt confirms a receipt at most once and applies the linked side
// effect in the same store transaction: consultation receipts confirm the
// consultation's payment, order receipts increment paid_amount. If the side
// effect fails the receipt stays unconfirmed and the call can be retried.
// Order receipts additionally pay the owner's referrer the flat bonus plus the
// configured percentage of the amount, each with its own audit entry. Both
// values are read from settings at confirmation time.
func (e *Engine) ConfirmReceipt(ctx context.Context, receiptID, adminID string) (*repo.Receipt, error) {
	start := time.Now()
	rc, err := e.confirmReceipt(ctx, receiptID, adminID)
	e.observe("confirm_receipt", start, err)
	return rc, err
}

func (e *Engine) confirmReceipt(ctx context.Context, receiptID, adminID string) (*repo.Receipt, error) {
	pending, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	if pending.ConsultationID != nil {
		rc, c, err := e.store.ConfirmConsultationReceipt(ctx, receiptID, adminID)
		if err != nil {
			return nil, err
		}
		e.announceConsultationConfirmed(ctx, c, adminID)
		return rc, nil
	}

	rc, order, err := e.store.ConfirmOrderReceipt(ctx, receiptID, adminID)
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertActivity(ctx, &order.UserID, "order_payment_received",
		fmt.Sprintf("%s: %d", order.OrderNumber, rc.Amount)); err != nil {
		e.logger.Warn("log order payment failed", "order_id", order.ID, "error", err)
	}

	owner, err := e.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		return nil, fmt.Errorf("load order owner: %w", err)
	}
	e.notifyUser(ctx, owner, "order_payment_received",
		fmt.Sprintf("Оплата %d руб. по заказу %s подтверждена.", rc.Amount, order.OrderNumber),
		&order.ID)

	if owner.ReferrerID != nil {
		e.payReferralBonus(ctx, *owner.ReferrerID, owner, order.OrderNumber, rc.Amount)
	}
	return rc, nil
}

// payReferralBonus credits the referrer with the flat bonus plus the
// percentage share, both from the current settings values.
func (e *Engine) payReferralBonus(ctx context.Context, referrerID string, owner *repo.User, orderNumber string, amount int64) {
	flat := e.IntSetting(ctx, SettingReferralBonus, 500)
	percent := e.IntSetting(ctx, SettingReferralPercentage, 10)
	share := amount * percent / 100

	total := int64(0)
	if flat > 0 {
		if _, err := e.AdjustBalance(ctx, referrerID, flat, "referral_flat_bonus",
			fmt.Sprintf("order %s", orderNumber)); err != nil {
			e.logger.Error("pay flat referral bonus failed", "referrer_id", referrerID, "error", err)
		} else {
			total += flat
		}
	}
	if share > 0 {
		if _, err := e.AdjustBalance(ctx, referrerID, share, "referral_percent_bonus",
			fmt.Sprintf("order %s: %d%% of %d", orderNumber, percent, amount)); err != nil {
			e.logger.Error("pay percent referral bonus failed", "referrer_id", referrerID, "error", err)
		} else {
			total += share
		}
	}
	if total == 0 {
		return
	}

	referrer, err := e.store.GetUserByID(ctx, referrerID)
	if err != nil {
		e.logger.Warn("load referrer failed", "referrer_id", referrerID, "error", err)
		return
	}
	e.notifyUser(ctx, referrer, "referral_bonus",
		fmt.Sprintf("Вам начислено %d руб. за оплату заказа приглашенным пользователем %s.", total, owner.DisplayName),
		nil)
}
