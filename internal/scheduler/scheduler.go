package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boardgame-bot/internal/engine"
	"boardgame-bot/internal/metrics"
	"boardgame-bot/internal/notify"
	"boardgame-bot/internal/stats"
)

// Config tunes the scheduler loop.
type Config struct {
	Interval     time.Duration
	ReportHour   int
	AdminChatIDs []int64
}

// Scheduler runs the periodic background jobs: consultation reminders, stale
// order nudges and the daily admin report. One job failing never stops the
// loop or the remaining jobs of the tick.
type Scheduler struct {
	engine  *engine.Engine
	stats   *stats.Service
	sender  notify.Sender
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config

	lastReportDay string
}

// New constructs the scheduler.
func New(eng *engine.Engine, statsService *stats.Service, sender notify.Sender, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Scheduler{
		engine:  eng,
		stats:   statsService,
		sender:  sender,
		metrics: metricRegistry,
		logger:  logger.With("component", "scheduler"),
		cfg:     cfg,
	}
}

// Run executes the job loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.runJob(ctx, "consultation_reminders", func(ctx context.Context) error {
		sent, err := s.engine.SendReminders(ctx)
		if sent > 0 {
			s.logger.Info("consultation reminders sent", "count", sent)
		}
		return err
	})
	s.runJob(ctx, "stale_order_nudges", func(ctx context.Context) error {
		sent, err := s.engine.NudgeStaleOrders(ctx)
		if sent > 0 {
			s.logger.Info("stale order nudges sent", "count", sent)
		}
		return err
	})
	s.runJob(ctx, "daily_report", s.sendDailyReport)
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	err := job(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Error("scheduler job failed", "job", name, "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("scheduler").Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.SchedulerRuns.WithLabelValues(name, status).Inc()
	}
}

// sendDailyReport sends one statistics summary per day to the admin chats once
// the configured hour has passed.
func (s *Scheduler) sendDailyReport(ctx context.Context) error {
	now := time.Now()
	day := now.Format("2006-01-02")
	if now.Hour() < s.cfg.ReportHour || s.lastReportDay == day {
		return nil
	}

	snap, err := s.stats.Refresh(ctx, "daily_report")
	if err != nil {
		return err
	}
	report := formatReport(snap)
	for _, chatID := range s.cfg.AdminChatIDs {
		if err := s.sender.Send(ctx, chatID, report); err != nil {
			s.logger.Warn("daily report delivery failed", "chat_id", chatID, "error", err)
		}
	}
	s.lastReportDay = day
	return nil
}

func formatReport(snap *stats.Snapshot) string {
	var b strings.Builder
	b.WriteString("Ежедневный отчет\n")
	fmt.Fprintf(&b, "Пользователи: %d\n", snap.Totals.TotalUsers)
	fmt.Fprintf(&b, "Заказы: %d (выручка %d руб.)\n", snap.Totals.TotalOrders, snap.Totals.Revenue)
	for status, count := range snap.Totals.OrdersByStatus {
		fmt.Fprintf(&b, "  %s: %d\n", status, count)
	}
	fmt.Fprintf(&b, "Консультации: %d (оплачено %d)\n", snap.Totals.TotalConsultations, snap.Totals.ConfirmedConsultations)
	fmt.Fprintf(&b, "Активные бонусы: %d\n", snap.Totals.ActiveBonuses)
	fmt.Fprintf(&b, "Заявки на выплату: %d (выплачено всего %d руб.)\n", snap.Totals.PendingPayouts, snap.Totals.PaidOutTotal)
	if len(snap.TopReferrers) > 0 {
		b.WriteString("Топ рефереров:\n")
		for i, r := range snap.TopReferrers {
			fmt.Fprintf(&b, "  %d. %s: %d приглашенных\n", i+1, r.DisplayName, r.ReferralCount)
		}
	}
	return strings.TrimSpace(b.String())
}
