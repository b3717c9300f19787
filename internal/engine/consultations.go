package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boardgame-bot/internal/repo"
)

const (
	slotDateLayout = "2006-01-02"
	slotTimeLayout = "15:04"
)

// CreateSlot opens a bookable consultation slot. Duplicate date+time pairs are
// rejected by the store's unique constraint.
func (e *Engine) CreateSlot(ctx context.Context, date, timeOfDay string) (*repo.ConsultationSlot, error) {
	start := time.Now()
	slot, err := e.createSlot(ctx, date, timeOfDay)
	e.observe("create_slot", start, err)
	return slot, err
}

func (e *Engine) createSlot(ctx context.Context, date, timeOfDay string) (*repo.ConsultationSlot, error) {
	if _, err := time.Parse(slotDateLayout, date); err != nil {
		return nil, fmt.Errorf("slot date %q: %w", date, ErrInvalidInput)
	}
	if _, err := time.Parse(slotTimeLayout, timeOfDay); err != nil {
		return nil, fmt.Errorf("slot time %q: %w", timeOfDay, ErrInvalidInput)
	}
	return e.store.CreateSlot(ctx, date, timeOfDay)
}

// OpenSlots lists slots still available for booking.
func (e *Engine) OpenSlots(ctx context.Context) ([]repo.ConsultationSlot, error) {
	return e.store.ListOpenSlots(ctx)
}

// BookSlot claims the slot for the user and creates the consultation with
// price and duration snapshotted from the current system settings. Exactly one
// of two racing bookings wins; the loser sees repo.ErrUnavailable.
func (e *Engine) BookSlot(ctx context.Context, user *repo.User, slotID string) (*repo.Consultation, error) {
	start := time.Now()
	c, err := e.bookSlot(ctx, user, slotID)
	e.observe("book_slot", start, err)
	return c, err
}

func (e *Engine) bookSlot(ctx context.Context, user *repo.User, slotID string) (*repo.Consultation, error) {
	price := e.IntSetting(ctx, SettingConsultationPrice, 2000)
	duration := e.IntSetting(ctx, SettingConsultationDuration, 60)

	var created *repo.Consultation
	var err error
	for attempt := 0; attempt < numberRetries; attempt++ {
		created, err = e.store.BookSlot(ctx, slotID, repo.Consultation{
			Number:          newNumber("CONS"),
			UserID:          user.ID,
			DurationMinutes: int(duration),
			Price:           price,
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
		return nil, fmt.Errorf("book slot: %w", err)
	}

	if err := e.store.InsertActivity(ctx, &user.ID, "consultation_booked", created.Number); err != nil {
		e.logger.Warn("log booking failed", "consultation_id", created.ID, "error", err)
	}
	e.logger.Info("slot booked", "consultation_id", created.ID, "number", created.Number)

	e.notifyUser(ctx, user, "consultation_booked",
		fmt.Sprintf("Консультация %s записана на %s в %s. Стоимость: %d руб. Оплатите и пришлите чек для подтверждения.",
			created.Number, created.ScheduledDate, created.ScheduledTime, created.Price),
		&created.ID)
	e.notifyAdmins(ctx, "consultation_booked",
		fmt.Sprintf("Новая запись на консультацию %s: %s, %s %s",
			created.Number, user.DisplayName, created.ScheduledDate, created.ScheduledTime),
		&created.ID)
	return created, nil
}

// ConfirmPayment marks the consultation paid and confirmed. A repeated
// confirmation fails with repo.ErrUnavailable instead of re-applying.
func (e *Engine) ConfirmPayment(ctx context.Context, consultationID, managerID string) (*repo.Consultation, error) {
	start := time.Now()
	c, err := e.confirmPayment(ctx, consultationID, managerID)
	e.observe("confirm_consultation_payment", start, err)
	return c, err
}

func (e *Engine) confirmPayment(ctx context.Context, consultationID, managerID string) (*repo.Consultation, error) {
	c, err := e.store.ConfirmConsultationPayment(ctx, consultationID, managerID)
	if err != nil {
		return nil, err
	}
	e.announceConsultationConfirmed(ctx, c, managerID)
	return c, nil
}

// announceConsultationConfirmed records the audit entry and notifies the owner
// after a confirmation has been committed, naming the confirming manager.
func (e *Engine) announceConsultationConfirmed(ctx context.Context, c *repo.Consultation, managerID string) {
	if err := e.store.InsertActivity(ctx, &c.UserID, "consultation_confirmed", c.Number); err != nil {
		e.logger.Warn("log confirmation failed", "consultation_id", c.ID, "error", err)
	}

	managerName := managerID
	if manager, err := e.store.GetUserByID(ctx, managerID); err == nil {
		managerName = manager.DisplayName
	} else {
		e.logger.Warn("load confirming manager failed", "manager_id", managerID, "error", err)
	}

	owner, err := e.store.GetUserByID(ctx, c.UserID)
	if err != nil {
		e.logger.Warn("load consultation owner failed", "user_id", c.UserID, "error", err)
		return
	}
	e.notifyUser(ctx, owner, "consultation_confirmed",
		fmt.Sprintf("Оплата консультации %s подтверждена менеджером %s. Ждем вас %s в %s.",
			c.Number, managerName, c.ScheduledDate, c.ScheduledTime),
		&c.ID)
}

// SendReminders dispatches reminders for confirmed consultations scheduled one
// lead-time ahead. The reminder_sent flag is claimed before delivery so a
// consultation is reminded at most once; one failed send never aborts the
// batch. Returns the number of reminders sent.
func (e *Engine) SendReminders(ctx context.Context) (int, error) {
	start := time.Now()
	sent, err := e.sendReminders(ctx)
	e.observe("send_reminders", start, err)
	return sent, err
}

func (e *Engine) sendReminders(ctx context.Context) (int, error) {
	lead := e.IntSetting(ctx, SettingReminderLeadHours, 24)
	date := time.Now().UTC().Add(time.Duration(lead) * time.Hour).Format(slotDateLayout)

	due, err := e.store.ListDueReminders(ctx, date)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, item := range due {
		claimed, err := e.store.MarkReminderSent(ctx, item.Consultation.ID)
		if err != nil {
			e.logger.Warn("claim reminder failed", "consultation_id", item.Consultation.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		owner := &repo.User{ID: item.Consultation.UserID, TelegramID: item.TelegramID}
		e.notifyUser(ctx, owner, "consultation_reminder",
			fmt.Sprintf("Напоминание: консультация %s завтра, %s в %s.",
				item.Consultation.Number, item.Consultation.ScheduledDate, item.Consultation.ScheduledTime),
			&item.Consultation.ID)
		sent++
	}
	return sent, nil
}
