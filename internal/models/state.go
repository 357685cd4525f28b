// Package models defines the session record and dialogue types shared across DreamPipe.
package models

import (
	"errors"
	"fmt"
	"time"
)

// State is the step a user currently occupies in the dialogue.
type State string

const (
	// StateWaitingInterpreter waits for the user to pick an interpretation style.
	StateWaitingInterpreter State = "waiting_interpreter"
	// StateWaitingDream waits for the free-text dream description.
	StateWaitingDream State = "waiting_dream"
	// StateAskingQuestions collects the clarifying answers one by one.
	StateAskingQuestions State = "asking_questions"
	// StateProcessing means a generation call is in flight.
	StateProcessing State = "processing"
	// StateCompleted is transient: a generation finished and the counter was bumped.
	StateCompleted State = "completed"
)

// Dialogue limits.
const (
	// QuestionCount is the number of clarifying questions asked after the dream.
	QuestionCount = 3
	// MinDreamLength is the minimum number of visible characters in a dream.
	MinDreamLength = 10
	// MaxDreamLength is the maximum number of visible characters in a dream.
	MaxDreamLength = 2000
	// MaxAnswerWords is the maximum number of words in a clarifying answer.
	MaxAnswerWords = 5
)

// ErrInvalidSession is returned by Session.Validate for records that break the dialogue invariants.
var ErrInvalidSession = errors.New("invalid session")

// IsValidState reports whether s is a known dialogue state.
func IsValidState(s State) bool {
	switch s {
	case StateWaitingInterpreter, StateWaitingDream, StateAskingQuestions, StateProcessing, StateCompleted:
		return true
	default:
		return false
	}
}

// Session is the per-user dialogue record persisted between turns.
type Session struct {
	State           State     `json:"state"`
	Language        string    `json:"language,omitempty"`
	Interpreter     string    `json:"interpreter,omitempty"`
	DreamText       string    `json:"dreamText,omitempty"`
	Answers         []string  `json:"answers"`
	CurrentQuestion int       `json:"currentQuestion"`
	CountAIRequests int       `json:"countAIRequests"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewSession returns the default record handed out for unknown or expired users.
func NewSession(now time.Time) Session {
	return Session{
		State:     StateWaitingInterpreter,
		Answers:   []string{},
		CreatedAt: now.UTC(),
	}
}

// Clone returns a deep copy so callers can mutate answers without aliasing.
func (s Session) Clone() Session {
	out := s
	out.Answers = append([]string{}, s.Answers...)
	return out
}

// ResetDialogue clears the per-dialogue fields and returns to the interpreter menu.
// Language, the request counter and the creation time survive.
func (s *Session) ResetDialogue() {
	s.State = StateWaitingInterpreter
	s.Interpreter = ""
	s.DreamText = ""
	s.Answers = []string{}
	s.CurrentQuestion = 0
}

// Validate checks the invariants every stored session must satisfy.
func (s Session) Validate() error {
	if !IsValidState(s.State) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidSession, s.State)
	}
	if s.CurrentQuestion < 0 || s.CurrentQuestion > QuestionCount {
		return fmt.Errorf("%w: currentQuestion %d out of range", ErrInvalidSession, s.CurrentQuestion)
	}
	if len(s.Answers) != s.CurrentQuestion {
		return fmt.Errorf("%w: %d answers for question index %d", ErrInvalidSession, len(s.Answers), s.CurrentQuestion)
	}
	if s.CountAIRequests < 0 {
		return fmt.Errorf("%w: negative request counter", ErrInvalidSession)
	}
	switch s.State {
	case StateWaitingDream, StateAskingQuestions, StateProcessing:
		if s.Interpreter == "" {
			return fmt.Errorf("%w: state %s without interpreter", ErrInvalidSession, s.State)
		}
	}
	if (s.State == StateAskingQuestions || s.State == StateProcessing) && s.DreamText == "" {
		return fmt.Errorf("%w: state %s without dream text", ErrInvalidSession, s.State)
	}
	if s.State == StateProcessing && s.CurrentQuestion != QuestionCount {
		return fmt.Errorf("%w: processing with %d of %d answers", ErrInvalidSession, s.CurrentQuestion, QuestionCount)
	}
	return nil
}
