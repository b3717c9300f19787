package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"boardgame-bot/internal/repo"
)

// RegisterUser creates the user and default settings rows, resolving an
// optional referral code first. An unknown or malformed code degrades to "no
// referrer" and never fails the registration. Re-registering an existing chat
// id returns the existing user.
func (e *Engine) RegisterUser(ctx context.Context, telegramID int64, displayName, referralCode string) (*repo.User, error) {
	start := time.Now()
	user, err := e.registerUser(ctx, telegramID, displayName, referralCode)
	e.observe("register_user", start, err)
	return user, err
}

func (e *Engine) registerUser(ctx context.Context, telegramID int64, displayName, referralCode string) (*repo.User, error) {
	existing, err := e.store.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		if touchErr := e.store.TouchLastActive(ctx, existing.ID); touchErr != nil {
			e.logger.Warn("touch last active failed", "user_id", existing.ID, "error", touchErr)
		}
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	referrer := e.resolveReferrer(ctx, referralCode)

	var created *repo.User
	for attempt := 0; attempt < numberRetries; attempt++ {
		u := repo.User{
			TelegramID:   telegramID,
			DisplayName:  displayName,
			ReferralCode: newReferralCode(telegramID),
		}
		if referrer != nil {
			u.ReferrerID = &referrer.ID
		}
		created, err = e.store.CreateUser(ctx, u)
		if errors.Is(err, repo.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	if created == nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	if err := e.store.InsertActivity(ctx, &created.ID, "user_registration",
		fmt.Sprintf("telegram_id=%d", telegramID)); err != nil {
		e.logger.Warn("log registration failed", "user_id", created.ID, "error", err)
	}
	e.logger.Info("user registered", "user_id", created.ID, "has_referrer", referrer != nil)

	if referrer != nil {
		e.notifyUser(ctx, referrer, "new_referral",
			fmt.Sprintf("По вашей ссылке зарегистрировался новый пользователь: %s", displayName),
			&created.ID)
	}
	return created, nil
}

// resolveReferrer maps a referral code (optionally carrying the deep-link
// prefix) to an existing user, or nil.
func (e *Engine) resolveReferrer(ctx context.Context, code string) *repo.User {
	code = strings.TrimSpace(strings.TrimPrefix(code, e.cfg.ReferralPrefix))
	if code == "" {
		return nil
	}
	referrer, err := e.store.GetUserByReferralCode(ctx, code)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.logger.Warn("referral lookup failed", "error", err)
		}
		return nil
	}
	return referrer
}

// newReferralCode derives a code from the chat id plus a random suffix, so
// codes are unique per user and not guessable from the id alone.
func newReferralCode(telegramID int64) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return "REF" + strings.ToUpper(strconv.FormatInt(telegramID, 36)) + suffix
}

// UpdateProfile applies the whitelisted profile fields. It returns false when
// no field was provided. Only field names are logged, never values.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, upd repo.ProfileUpdate) (bool, error) {
	start := time.Now()
	changed, err := e.store.UpdateUserProfile(ctx, userID, upd)
	e.observe("update_profile", start, err)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	var fields []string
	if upd.DisplayName != nil {
		fields = append(fields, "display_name")
	}
	if upd.Phone != nil {
		fields = append(fields, "phone")
	}
	if upd.Email != nil {
		fields = append(fields, "email")
	}
	if upd.City != nil {
		fields = append(fields, "city")
	}
	if upd.EventDate != nil {
		fields = append(fields, "event_date")
	}
	if err := e.store.InsertActivity(ctx, &userID, "profile_updated", strings.Join(fields, ",")); err != nil {
		e.logger.Warn("log profile update failed", "user_id", userID, "error", err)
	}
	return true, nil
}

// AdjustBalance is the single entry point for every balance mutation. The
// store applies the delta and its audit entry atomically and refuses to drive
// the balance negative.
func (e *Engine) AdjustBalance(ctx context.Context, userID string, delta int64, action, details string) (*repo.User, error) {
	start := time.Now()
	user, err := e.store.AdjustBalance(ctx, userID, delta, action, details)
	e.observe("adjust_balance", start, err)
	return user, err
}
