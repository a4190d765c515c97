package services

import (
	"errors"
	"fmt"
	"log"

	"github.com/leyline/core/internal/database/models"
)

// ErrInvalidTransition indicates a status change the lifecycle does not allow
var ErrInvalidTransition = errors.New("invalid status transition")

// CanTransition reports whether an email may move from one status to another.
// stale -> processing -> done, with processing -> stale on failure.
func CanTransition(from, to models.EmailStatus) bool {
	switch from {
	case models.EmailStatusStale:
		return to == models.EmailStatusProcessing
	case models.EmailStatusProcessing:
		return to == models.EmailStatusDone || to == models.EmailStatusStale
	}
	return false
}

// StatusTracker is the only writer of emails.status
type StatusTracker struct {
	store *EmailStore
	hub   *EventHub
}

// NewStatusTracker creates a new StatusTracker instance
func NewStatusTracker(store *EmailStore, hub *EventHub) *StatusTracker {
	return &StatusTracker{store: store, hub: hub}
}

// Begin marks a stale email as processing
func (t *StatusTracker) Begin(emailID string) error {
	return t.transition(emailID, models.EmailStatusStale, models.EmailStatusProcessing, nil)
}

// Complete marks a processing email as done and stores its summary
func (t *StatusTracker) Complete(emailID, summary string) error {
	return t.transition(emailID, models.EmailStatusProcessing, models.EmailStatusDone, &summary)
}

// Fail returns a processing email to stale
func (t *StatusTracker) Fail(emailID string) error {
	return t.transition(emailID, models.EmailStatusProcessing, models.EmailStatusStale, nil)
}

func (t *StatusTracker) transition(emailID string, from, to models.EmailStatus, summary *string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	ok, err := t.store.UpdateEmailStatus(emailID, from, to, summary)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: email %s is not %s", ErrInvalidTransition, emailID, from)
	}

	log.Printf("[StatusTracker] Email %s: %s -> %s", emailID, from, to)
	t.hub.Publish(EmailEvent{Type: EventStatus, EmailID: emailID, Status: to})
	return nil
}
