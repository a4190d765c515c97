package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/leyline/core/internal/database/models"
)

// Deliverer handles one poll-latest delivery
type Deliverer interface {
	HandleDelivery(ctx context.Context, body []byte) Outcome
}

// PollScheduler runs poll-latest deliveries on a fixed interval, for
// mailboxes without push notifications.
type PollScheduler struct {
	pipeline   Deliverer
	logService *LogService
	interval   time.Duration
	startDelay time.Duration
	stopChan   chan struct{}
	running    bool
	mu         sync.Mutex
	polling    sync.Mutex // keeps poll cycles from overlapping
}

// NewPollScheduler creates a new poll scheduler
func NewPollScheduler(pipeline Deliverer, logService *LogService, interval time.Duration) *PollScheduler {
	return &PollScheduler{
		pipeline:   pipeline,
		logService: logService,
		interval:   interval,
		startDelay: 10 * time.Second,
		stopChan:   make(chan struct{}),
	}
}

// Start begins polling
func (s *PollScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log.Printf("[PollScheduler] Starting with interval: %v", s.interval)

	go func() {
		// first poll after the server is ready
		select {
		case <-time.After(s.startDelay):
			s.Poll()
		case <-s.stopChan:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Poll()
			case <-s.stopChan:
				log.Println("[PollScheduler] Stopping")
				return
			}
		}
	}()
}

// Stop stops polling
func (s *PollScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopChan)
	s.running = false
}

// Poll runs one delivery unless the previous one is still running. It
// reports whether a delivery ran.
func (s *PollScheduler) Poll() bool {
	if !s.polling.TryLock() {
		log.Println("[PollScheduler] Previous poll still running, skipping this cycle")
		return false
	}
	defer s.polling.Unlock()

	timeout := s.interval
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	outcome := s.pipeline.HandleDelivery(ctx, nil)
	if outcome.Kind == Rejected {
		log.Printf("[PollScheduler] Poll rejected: %s", outcome.Message)
		s.logService.LogWarn("", models.LogModuleWebhook, "poll", "Scheduled poll failed", map[string]interface{}{
			"message": outcome.Message,
		})
	} else if outcome.EmailID != "" {
		log.Printf("[PollScheduler] Poll: %s (%s)", outcome.Message, outcome.EmailID)
	}
	return true
}
