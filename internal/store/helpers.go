package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// expiresAt is the instant a session stops being readable.
func expiresAt(s models.Session, ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// prepare normalizes a session before it is written.
func prepare(s models.Session, now time.Time) models.Session {
	out := s.Clone()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	if out.Answers == nil {
		out.Answers = []string{}
	}
	return out
}

func encodeAnswers(answers []string) (string, error) {
	if answers == nil {
		answers = []string{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("failed to encode answers: %w", err)
	}
	return string(b), nil
}

func decodeAnswers(raw string) ([]string, error) {
	answers := []string{}
	if raw == "" {
		return answers, nil
	}
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		return nil, fmt.Errorf("failed to decode answers: %w", err)
	}
	return answers, nil
}

func encodeSession(s models.Session) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return b, nil
}

func decodeSession(raw []byte) (models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.Answers == nil {
		s.Answers = []string{}
	}
	return s, nil
}
