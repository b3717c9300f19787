package convo

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestManager(ttl time.Duration) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(ttl, logger)
}

func TestQuestionnaireFillsForm(t *testing.T) {
	m := newTestManager(time.Minute)
	s := m.Start(42)
	if s.Step != StepOccasion || s.Complete() {
		t.Fatalf("fresh session in wrong state: %+v", s)
	}

	answers := []string{
		"день рождения",
		"семья с детьми",
		"10000-15000",
		"4-6",
		"веселье, азарт; ностальгия",
		"монополия",
		"реклама",
		"раз в неделю",
		"игра про наш город",
	}
	for _, a := range answers {
		if _, ok := m.Advance(42, a); !ok {
			t.Fatalf("advance lost session on %q", a)
		}
	}

	done := m.Get(42)
	if !done.Complete() {
		t.Fatalf("expected complete after %d answers, step %d", len(answers), done.Step)
	}
	f := done.Answers
	if f.Occasion != "день рождения" || f.BudgetRange != "10000-15000" || f.Description != "игра про наш город" {
		t.Fatalf("answers misplaced: %+v", f)
	}
	if len(f.Emotions) != 3 {
		t.Fatalf("expected 3 emotions, got %v", f.Emotions)
	}
	if f.Emotions[0] != "веселье" || f.Emotions[2] != "ностальгия" {
		t.Fatalf("emotions split wrong: %v", f.Emotions)
	}

	// Extra input after completion is ignored, not recorded.
	after, ok := m.Advance(42, "лишний ответ")
	if !ok || after.Step != StepDone {
		t.Fatalf("post-completion advance changed state: %+v", after)
	}
}

func TestAdvanceWithoutSession(t *testing.T) {
	m := newTestManager(time.Minute)
	if _, ok := m.Advance(7, "привет"); ok {
		t.Fatal("advance must report missing session")
	}
}

func TestStartReplacesSession(t *testing.T) {
	m := newTestManager(time.Minute)
	m.Start(13)
	m.Advance(13, "юбилей")

	fresh := m.Start(13)
	if fresh.Step != StepOccasion || fresh.Answers.Occasion != "" {
		t.Fatalf("restart kept old answers: %+v", fresh)
	}
}

func TestEndReturnsFinalState(t *testing.T) {
	m := newTestManager(time.Minute)
	m.Start(21)
	m.Advance(21, "корпоратив")

	ended := m.End(21)
	if ended == nil || ended.Answers.Occasion != "корпоратив" {
		t.Fatalf("end lost answers: %+v", ended)
	}
	if m.Get(21) != nil {
		t.Fatal("session survived End")
	}
	if m.End(21) != nil {
		t.Fatal("second End must return nil")
	}
}

func TestSweepDropsIdleSessions(t *testing.T) {
	m := newTestManager(time.Minute)
	stale := m.Start(31)
	stale.UpdatedAt = time.Now().Add(-2 * time.Minute)
	m.Start(32)

	if removed := m.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if m.Get(31) != nil {
		t.Fatal("stale session survived sweep")
	}
	if m.Get(32) == nil {
		t.Fatal("fresh session swept")
	}
}
