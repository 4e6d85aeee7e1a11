// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent marks a grading event that can never be applied.
var ErrInvalidEvent = errors.New("invalid grading event")

// GradingEvent announces that a submission was graded.
type GradingEvent struct {
	EventID            string    // unique id for idempotency
	ContestID          string    // contest the challenge mapping belongs to
	UserID             string    // participant
	ChallengeMappingID string    // contest-specific challenge instance
	Points             int64     // points awarded to this submission
	GradedAt           time.Time // grading timestamp, informational
}

// Validate reports whether the event carries the fields the write path needs.
func (e GradingEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.ContestID) == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing contest_id"))
	case strings.TrimSpace(e.UserID) == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing user_id"))
	case strings.TrimSpace(e.ChallengeMappingID) == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing challenge_mapping_id"))
	case e.Points < 0:
		return errors.Join(ErrInvalidEvent, errors.New("points must not be negative"))
	}
	return nil
}

// eventNamespace scopes derived event IDs.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://contestboard/grading-events"))

// DerivedID returns a stable ID for an event delivered without one, so a
// redelivery of the same grade is recognised as a duplicate.
func (e GradingEvent) DerivedID() string {
	name := fmt.Sprintf("%s|%s|%s|%d|%s",
		e.ContestID, e.UserID, e.ChallengeMappingID, e.Points, e.GradedAt.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// Submission is one graded attempt, owned by the grading collaborator.
type Submission struct {
	UserID             string
	ChallengeMappingID string
	Points             int64
	CreatedAt          time.Time
}

// ScoreEntry is a (user, score) pair as held by the store and the rank cache.
type ScoreEntry struct {
	UserID string
	Score  int64
}

// Identity is what the user directory knows about a participant.
type Identity struct {
	UserID string
	Email  string
}
