package models

import (
	"errors"
	"testing"
	"time"
)

func TestNewSessionDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession(now)
	if s.State != StateWaitingInterpreter {
		t.Errorf("expected state %s, got %s", StateWaitingInterpreter, s.State)
	}
	if s.Language != "" || s.Interpreter != "" || s.DreamText != "" {
		t.Error("expected empty optional fields")
	}
	if s.Answers == nil || len(s.Answers) != 0 {
		t.Errorf("expected empty non-nil answers, got %#v", s.Answers)
	}
	if s.CurrentQuestion != 0 || s.CountAIRequests != 0 {
		t.Error("expected zero counters")
	}
	if !s.CreatedAt.Equal(now) {
		t.Errorf("expected createdAt %v, got %v", now, s.CreatedAt)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("default session should be valid: %v", err)
	}
}

func TestSessionValidate(t *testing.T) {
	valid := Session{
		State:           StateAskingQuestions,
		Interpreter:     "miller",
		DreamText:       "I was flying over the sea",
		Answers:         []string{"joy"},
		CurrentQuestion: 1,
	}

	tests := []struct {
		name    string
		mutate  func(s *Session)
		wantErr bool
	}{
		{"valid", func(s *Session) {}, false},
		{"unknown state", func(s *Session) { s.State = "dancing" }, true},
		{"answers mismatch", func(s *Session) { s.Answers = nil }, true},
		{"question out of range", func(s *Session) { s.CurrentQuestion = QuestionCount + 1 }, true},
		{"missing interpreter", func(s *Session) { s.Interpreter = "" }, true},
		{"missing dream", func(s *Session) { s.DreamText = "" }, true},
		{"processing early", func(s *Session) { s.State = StateProcessing }, true},
		{"negative counter", func(s *Session) { s.CountAIRequests = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid.Clone()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidSession) {
				t.Errorf("expected ErrInvalidSession, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestResetDialogueKeepsCounterAndLanguage(t *testing.T) {
	s := Session{
		State:           StateAskingQuestions,
		Language:        "uk",
		Interpreter:     "jung",
		DreamText:       "a long corridor of doors",
		Answers:         []string{"fear", "home"},
		CurrentQuestion: 2,
		CountAIRequests: 1,
	}
	s.ResetDialogue()
	if s.State != StateWaitingInterpreter || s.Interpreter != "" || s.DreamText != "" {
		t.Errorf("dialogue fields not cleared: %+v", s)
	}
	if len(s.Answers) != 0 || s.CurrentQuestion != 0 {
		t.Errorf("answers not cleared: %+v", s)
	}
	if s.Language != "uk" || s.CountAIRequests != 1 {
		t.Errorf("language or counter lost: %+v", s)
	}
}

func TestCloneDoesNotAliasAnswers(t *testing.T) {
	s := Session{Answers: []string{"a"}}
	c := s.Clone()
	c.Answers[0] = "b"
	if s.Answers[0] != "a" {
		t.Error("clone shares answers backing array")
	}
}

func TestScreenEmpty(t *testing.T) {
	if !(Screen{CallbackAnswer: "ok"}).Empty() {
		t.Error("callback-only screen should be empty")
	}
	if (Screen{Messages: []Message{{Text: "hi"}}}).Empty() {
		t.Error("screen with a message should not be empty")
	}
}
