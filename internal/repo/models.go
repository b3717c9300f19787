package repo

import "time"

// Order lifecycle statuses.
const (
	OrderStatusNew       = "new"
	OrderStatusActive    = "active"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Consultation lifecycle statuses.
const (
	ConsultationStatusPending   = "pending"
	ConsultationStatusConfirmed = "confirmed"
	ConsultationStatusCompleted = "completed"
	ConsultationStatusCancelled = "cancelled"
)

// UserBonus activation states.
const (
	BonusStateActive        = "active"
	BonusStatePendingReview = "pending_review"
	BonusStateCompleted     = "completed"
	BonusStateRejected      = "rejected"
)

// Payout request statuses.
const (
	PayoutStatusPending   = "pending"
	PayoutStatusCompleted = "completed"
	PayoutStatusRejected  = "rejected"
)

// Bonus catalog requirement extraction strategies.
const (
	RequirementWeeks   = "weeks"
	RequirementClients = "clients"
	RequirementFixed   = "fixed"
)

// User represents the users table row including ledger fields.
type User struct {
	ID              string
	TelegramID      int64
	DisplayName     string
	Phone           *string
	Email           *string
	City            *string
	EventDate       *string
	ReferralCode    string
	ReferrerID      *string
	Balance         int64
	PendingEarnings int64
	TotalEarned     int64
	IsVIP           bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastActiveAt    time.Time
}

// UserSettings holds per-user notification preferences.
type UserSettings struct {
	UserID                string
	OrderNotifications    bool
	ReminderNotifications bool
	UpdatedAt             time.Time
}

// ProfileUpdate carries the whitelisted mutable profile fields. Nil means
// "leave unchanged".
type ProfileUpdate struct {
	DisplayName *string
	Phone       *string
	Email       *string
	City        *string
	EventDate   *string
}

// OrderForm is the completed questionnaire payload handed over by the chat
// collector.
type OrderForm struct {
	Occasion      string
	Audience      string
	BudgetRange   string
	PlayersRange  string
	Emotions      []string
	GameBasis     string
	Source        string
	PlayFrequency string
	Description   string
}

// Order represents a row in the orders table.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Occasion        string
	Audience        string
	BudgetRange     string
	PlayersRange    string
	Emotions        []string
	GameBasis       string
	Source          string
	PlayFrequency   string
	Description     string
	Price           *int64
	PaidAmount      int64
	DiscountPercent int
	CurrentStage    int
	TotalStages     int
	ProgressPercent int
	Status          string
	ManagerID       *string
	Deadline        *string
	StartedAt       time.Time
	LastActivityAt  time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStage is one ordinal step of an order's production pipeline.
type OrderStage struct {
	ID          string
	OrderID     string
	StageNumber int
	Name        string
	StartsAt    *string
	EndsAt      *string
	Completed   bool
	CompletedAt *time.Time
	Comment     *string
}

// StatusHistoryEntry is an append-only record of an order status transition.
type StatusHistoryEntry struct {
	ID        string
	OrderID   string
	Status    string
	ChangedBy *string
	Note      *string
	CreatedAt time.Time
}

// OrderTracker bundles an order with its stages for the tracking view.
type OrderTracker struct {
	Order   Order
	Stages  []OrderStage
	History []StatusHistoryEntry
}

// ConsultationSlot is a single bookable (date, time) opening.
type ConsultationSlot struct {
	ID        string
	Date      string
	Time      string
	Available bool
	BookedBy  *string
	CreatedAt time.Time
}

// Consultation is created as the result of a successful slot booking.
type Consultation struct {
	ID               string
	Number           string
	UserID           string
	SlotID           string
	ScheduledDate    string
	ScheduledTime    string
	DurationMinutes  int
	Price            int64
	PaidAmount       int64
	Status           string
	PaymentConfirmed bool
	ReminderSent     bool
	ManagerID        *string
	Notes            *string
	Feedback         *string
	Rating           *int
	ConvertedToOrder bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReminderItem carries a due consultation together with the chat id the
// reminder should be delivered to.
type ReminderItem struct {
	Consultation Consultation
	TelegramID   int64
}

// StaleOrder pairs an inactive order with its owner's chat id.
type StaleOrder struct {
	Order      Order
	TelegramID int64
}

// BonusConditions is the structured condition document attached to a catalog
// bonus. The requirement_type of the bonus decides which field is read.
type BonusConditions struct {
	WeeksRequired   int `json:"weeks_required,omitempty"`
	ClientsRequired int `json:"clients_required,omitempty"`
}

// Bonus is an admin-managed catalog entry.
type Bonus struct {
	ID              string
	Name            string
	Description     *string
	RewardAmount    int64
	RequirementType string
	Conditions      BonusConditions
	DurationDays    int
	MaxActive       int
	Combinable      bool
	Status          string
	SortOrder       int
	CreatedAt       time.Time
}

// UserBonus is one activation instance of a catalog bonus.
type UserBonus struct {
	ID            string
	UserID        string
	BonusID       string
	Progress      int
	TotalRequired int
	StartsOn      string
	EndsOn        string
	Status        string
	Proof         *string
	RewardPaid    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payout is a withdrawal request against reserved balance. Only the last four
// card digits are ever stored.
type Payout struct {
	ID           string
	Number       string
	UserID       string
	Amount       int64
	CardLast4    string
	CardHolder   string
	Status       string
	ProcessedBy  *string
	ProcessedAt  *time.Time
	RejectReason *string
	CreatedAt    time.Time
}

// Receipt is a proof-of-payment record linked to exactly one of an order or a
// consultation.
type Receipt struct {
	ID             string
	UserID         string
	OrderID        *string
	ConsultationID *string
	Amount         int64
	FileRef        *string
	Confirmed      bool
	ConfirmedBy    *string
	ConfirmedAt    *time.Time
	CreatedAt      time.Time
}

// ActivityEntry is one append-only audit trail record.
type ActivityEntry struct {
	ID        string
	UserID    *string
	Action    string
	Details   *string
	CreatedAt time.Time
}

// Notification is one inbox record for a user or the admin channel.
type Notification struct {
	ID        string
	Recipient string
	Type      string
	Message   string
	Ref       *string
	Read      bool
	CreatedAt time.Time
}

// Broadcast records an admin mass-message dispatch.
type Broadcast struct {
	ID             string
	Message        string
	SentBy         string
	RecipientCount int
	CreatedAt      time.Time
}

// Stats holds the aggregate counters behind the admin dashboard.
type Stats struct {
	TotalUsers             int64
	TotalOrders            int64
	OrdersByStatus         map[string]int64
	Revenue                int64
	TotalConsultations     int64
	ConfirmedConsultations int64
	ActiveBonuses          int64
	PendingPayouts         int64
	PaidOutTotal           int64
}

// ReferrerStat is one leaderboard row.
type ReferrerStat struct {
	UserID        string
	DisplayName   string
	ReferralCount int64
	TotalEarned   int64
}
