package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/leyline/core/internal/database/models"
	"github.com/nalgeon/be"
)

// Property: an email only ever moves stale -> processing -> done or
// stale -> processing -> stale, whatever operations are attempted.
func TestProperty_StatusTransitions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEmailStore(db)
	hub := NewEventHub()
	tracker := NewStatusTracker(store, hub)

	run := 0
	properties.Property("only_allowed_transitions_are_observed", prop.ForAll(
		func(ops []int) bool {
			run++
			id := fmt.Sprintf("prop-%d", run)
			seedEmail(t, store, id, models.EmailStatusStale, time.Now())

			events, unsubscribe := hub.Subscribe(len(ops) + 1)
			defer unsubscribe()

			current := models.EmailStatusStale
			for _, op := range ops {
				var (
					err    error
					target models.EmailStatus
				)
				switch op {
				case 0:
					target = models.EmailStatusProcessing
					err = tracker.Begin(id)
				case 1:
					target = models.EmailStatusDone
					err = tracker.Complete(id, "summary")
				default:
					target = models.EmailStatusStale
					err = tracker.Fail(id)
				}

				allowed := CanTransition(current, target)
				if allowed != (err == nil) {
					return false
				}
				if err != nil && !errors.Is(err, ErrInvalidTransition) {
					return false
				}
				if allowed {
					current = target
				}

				email, getErr := store.GetEmail(id)
				if getErr != nil || email.Status != current {
					return false
				}
			}

			// every published status event is itself a legal step
			prev := models.EmailStatusStale
			for {
				select {
				case event := <-events:
					if event.EmailID != id {
						continue
					}
					if !CanTransition(prev, event.Status) {
						return false
					}
					prev = event.Status
				default:
					return prev == current
				}
			}
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.EmailStatus
		allowed  bool
	}{
		{models.EmailStatusStale, models.EmailStatusProcessing, true},
		{models.EmailStatusProcessing, models.EmailStatusDone, true},
		{models.EmailStatusProcessing, models.EmailStatusStale, true},
		{models.EmailStatusStale, models.EmailStatusDone, false},
		{models.EmailStatusDone, models.EmailStatusStale, false},
		{models.EmailStatusDone, models.EmailStatusProcessing, false},
		{models.EmailStatusProcessing, models.EmailStatusProcessing, false},
	}

	for _, tt := range tests {
		be.Equal(t, CanTransition(tt.from, tt.to), tt.allowed)
	}
}

func TestCompleteStoresSummary(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEmailStore(db)
	tracker := NewStatusTracker(store, nil)

	seedEmail(t, store, "m1", "", time.Now())
	be.Err(t, tracker.Complete("m1", "too early"), ErrInvalidTransition)
	be.Err(t, tracker.Begin("m1"), nil)
	be.Err(t, tracker.Begin("m1"), ErrInvalidTransition)
	be.Err(t, tracker.Complete("m1", "Fill out the permit form."), nil)

	email, err := store.GetEmail("m1")
	be.Err(t, err, nil)
	be.Equal(t, email.Status, models.EmailStatusDone)
	be.Equal(t, email.Summary, "Fill out the permit form.")
}
