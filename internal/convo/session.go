package convo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"boardgame-bot/internal/repo"
)

// Step identifies the current question of the order questionnaire.
type Step int

const (
	StepOccasion Step = iota
	StepAudience
	StepBudget
	StepPlayers
	StepEmotions
	StepGameBasis
	StepSource
	StepPlayFrequency
	StepDescription
	StepDone
)

// Session is the per-chat questionnaire state. Answers accumulate until
// StepDone, when the collector hands the form to the engine.
type Session struct {
	ChatID    int64
	Step      Step
	Answers   repo.OrderForm
	UpdatedAt time.Time
}

// Complete reports whether every question has been answered.
func (s *Session) Complete() bool {
	return s.Step >= StepDone
}

// Manager tracks in-flight questionnaire sessions keyed by chat id. Sessions
// untouched longer than the TTL are dropped by the sweep loop.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	ttl      time.Duration
	logger   *slog.Logger
}

// NewManager creates a session manager with the given idle TTL.
func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		logger:   logger.With("component", "convo"),
	}
}

// Start begins a fresh questionnaire for the chat, replacing any previous one.
func (m *Manager) Start(chatID int64) *Session {
	s := &Session{ChatID: chatID, Step: StepOccasion, UpdatedAt: time.Now()}
	m.mu.Lock()
	m.sessions[chatID] = s
	m.mu.Unlock()
	return s
}

// Get returns the chat's session, or nil when none is in flight.
func (m *Manager) Get(chatID int64) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[chatID]
}

// Advance records the answer for the session's current step and moves to the
// next one. It reports false when no session exists for the chat.
func (m *Manager) Advance(chatID int64, answer string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[chatID]
	if !ok || s.Step >= StepDone {
		return s, ok
	}

	switch s.Step {
	case StepOccasion:
		s.Answers.Occasion = answer
	case StepAudience:
		s.Answers.Audience = answer
	case StepBudget:
		s.Answers.BudgetRange = answer
	case StepPlayers:
		s.Answers.PlayersRange = answer
	case StepEmotions:
		s.Answers.Emotions = splitEmotions(answer)
	case StepGameBasis:
		s.Answers.GameBasis = answer
	case StepSource:
		s.Answers.Source = answer
	case StepPlayFrequency:
		s.Answers.PlayFrequency = answer
	case StepDescription:
		s.Answers.Description = answer
	}
	s.Step++
	s.UpdatedAt = time.Now()
	return s, true
}

// End removes the chat's session, returning the final state if one existed.
func (m *Manager) End(chatID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[chatID]
	delete(m.sessions, chatID)
	return s
}

// Sweep drops sessions idle past the TTL and returns how many were removed.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for chatID, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, chatID)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions periodically until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				m.logger.Info("expired sessions dropped", "count", removed)
			}
		}
	}
}
