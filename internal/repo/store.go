package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// Sentinel errors shared by both store implementations. Engine code matches
// them with errors.Is and maps them onto user-facing outcomes.
var (
	// ErrNotFound signals that the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate signals a unique-constraint violation on insert.
	ErrDuplicate = errors.New("duplicate")
	// ErrUnavailable signals a conditional update whose precondition no
	// longer holds (slot already booked, payout already processed, ...).
	ErrUnavailable = errors.New("precondition not met")
	// ErrInsufficientFunds signals a balance mutation that would drive the
	// balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Store defines the persistence interface for the engine. Every conditional
// transition re-checks its precondition inside the UPDATE itself, and every
// multi-row mutation runs in a single transaction.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users & ledger
	CreateUser(ctx context.Context, u User) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*User, error)
	UpdateUserProfile(ctx context.Context, userID string, upd ProfileUpdate) (bool, error)
	TouchLastActive(ctx context.Context, userID string) error
	SetVIP(ctx context.Context, userID string, vip bool) error
	GetUserSettings(ctx context.Context, userID string) (*UserSettings, error)
	UpdateUserSettings(ctx context.Context, s UserSettings) error
	AdjustBalance(ctx context.Context, userID string, delta int64, action, details string) (*User, error)
	ListUserChatIDs(ctx context.Context) ([]int64, error)

	// Orders
	CreateOrder(ctx context.Context, o Order, stageNames []string) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListOrdersByStatus(ctx context.Context, status string) ([]Order, error)
	OrderStages(ctx context.Context, orderID string) ([]OrderStage, error)
	OrderHistory(ctx context.Context, orderID string) ([]StatusHistoryEntry, error)
	SetStageCompletion(ctx context.Context, orderID string, stageNumber int, completed bool, comment *string) (*Order, *OrderStage, error)
	UpdateOrderStatus(ctx context.Context, orderID, fromStatus, status string, changedBy, note *string) (*Order, error)
	UpdateOrderPrice(ctx context.Context, orderID string, price int64) error
	ListStaleOrders(ctx context.Context, cutoff time.Time) ([]StaleOrder, error)

	// Consultation slots & consultations
	CreateSlot(ctx context.Context, date, timeOfDay string) (*ConsultationSlot, error)
	ListOpenSlots(ctx context.Context) ([]ConsultationSlot, error)
	BookSlot(ctx context.Context, slotID string, c Consultation) (*Consultation, error)
	GetConsultation(ctx context.Context, id string) (*Consultation, error)
	ListConsultationsByUser(ctx context.Context, userID string) ([]Consultation, error)
	ConfirmConsultationPayment(ctx context.Context, consultationID, managerID string) (*Consultation, error)
	ListDueReminders(ctx context.Context, date string) ([]ReminderItem, error)
	MarkReminderSent(ctx context.Context, consultationID string) (bool, error)

	// Bonus catalog & activations
	EnsureBonus(ctx context.Context, b Bonus) error
	ListBonuses(ctx context.Context, onlyActive bool) ([]Bonus, error)
	GetBonus(ctx context.Context, id string) (*Bonus, error)
	CountActiveUserBonuses(ctx context.Context, userID string) (int, error)
	GetNonTerminalUserBonus(ctx context.Context, userID, bonusID string) (*UserBonus, error)
	CreateUserBonus(ctx context.Context, ub UserBonus, activeCap int) (*UserBonus, error)
	GetUserBonus(ctx context.Context, id string) (*UserBonus, error)
	ListUserBonuses(ctx context.Context, userID string) ([]UserBonus, error)
	IncrementBonusProgress(ctx context.Context, userBonusID string, delta int) (*UserBonus, error)
	SubmitBonusProof(ctx context.Context, userBonusID, proof string) (*UserBonus, error)
	ReviewUserBonus(ctx context.Context, userBonusID, status string, rewardPaid bool) (*UserBonus, error)
	ApproveUserBonus(ctx context.Context, userBonusID string, reward int64, action, details string) (*UserBonus, error)

	// Payouts
	CreatePayout(ctx context.Context, p Payout) (*Payout, error)
	GetPayout(ctx context.Context, id string) (*Payout, error)
	ListPayoutsByStatus(ctx context.Context, status string) ([]Payout, error)
	ProcessPayout(ctx context.Context, payoutID, adminID string, approve bool, reason *string) (*Payout, error)

	// Receipts
	CreateReceipt(ctx context.Context, r Receipt) (*Receipt, error)
	GetReceipt(ctx context.Context, id string) (*Receipt, error)
	ConfirmConsultationReceipt(ctx context.Context, receiptID, adminID string) (*Receipt, *Consultation, error)
	ConfirmOrderReceipt(ctx context.Context, receiptID, adminID string) (*Receipt, *Order, error)

	// System settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	EnsureSetting(ctx context.Context, key, value string) error

	// Activity log, notifications, broadcasts
	InsertActivity(ctx context.Context, userID *string, action, details string) error
	ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error)
	InsertNotification(ctx context.Context, n Notification) (*Notification, error)
	ListNotifications(ctx context.Context, recipient string, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	NotificationExists(ctx context.Context, recipient, ntype, ref string) (bool, error)
	InsertBroadcast(ctx context.Context, b Broadcast) (*Broadcast, error)

	// Statistics
	CollectStats(ctx context.Context) (*Stats, error)
	TopReferrers(ctx context.Context, limit int) ([]ReferrerStat, error)
}
