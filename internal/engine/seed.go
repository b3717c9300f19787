package engine

import (
	"context"
	"fmt"

	"boardgame-bot/internal/repo"
)

var defaultSettings = map[string]string{
	SettingMinPayoutAmount:      "500",
	SettingReferralBonus:        "500",
	SettingReferralPercentage:   "10",
	SettingConsultationPrice:    "2000",
	SettingConsultationDuration: "60",
	SettingPaymentTimeoutHours:  "24",
	SettingStaleOrderHours:      "48",
	SettingReminderLeadHours:    "24",
	SettingOrderStageCount:      "9",
}

var defaultBonuses = []repo.Bonus{
	{
		Name:            "Месяц с игрой",
		Description:     strPtr("Играйте в свою игру каждую неделю в течение месяца и пришлите подтверждение."),
		RewardAmount:    1000,
		RequirementType: repo.RequirementWeeks,
		Conditions:      repo.BonusConditions{WeeksRequired: 4},
		DurationDays:    30,
		MaxActive:       1,
		Status:          "active",
		SortOrder:       1,
	},
	{
		Name:            "Приведи друзей",
		Description:     strPtr("Пригласите трех новых клиентов по вашей реферальной ссылке."),
		RewardAmount:    1500,
		RequirementType: repo.RequirementClients,
		Conditions:      repo.BonusConditions{ClientsRequired: 3},
		DurationDays:    60,
		MaxActive:       1,
		Status:          "active",
		SortOrder:       2,
	},
	{
		Name:            "Отзыв о заказе",
		Description:     strPtr("Оставьте развернутый отзыв о полученной игре."),
		RewardAmount:    500,
		RequirementType: repo.RequirementFixed,
		DurationDays:    90,
		MaxActive:       1,
		Status:          "active",
		SortOrder:       3,
	},
}

// SeedDefaults populates system settings and the bonus catalog on first start.
// Every insert is conditional on absence, so repeated startups change nothing
// and admin-edited values survive restarts.
func (e *Engine) SeedDefaults(ctx context.Context) error {
	for key, value := range defaultSettings {
		if err := e.store.EnsureSetting(ctx, key, value); err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	for _, b := range defaultBonuses {
		if err := e.store.EnsureBonus(ctx, b); err != nil {
			return fmt.Errorf("seed bonus %s: %w", b.Name, err)
		}
	}
	e.logger.Info("defaults seeded", "settings", len(defaultSettings), "bonuses", len(defaultBonuses))
	return nil
}
