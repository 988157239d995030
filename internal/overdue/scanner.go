// Package overdue watches the loaded schedule for rentals that ran
// past their return time and confirmed bookings whose customer never
// showed up, and raises notices for each.
package overdue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetgrid/internal/events"
	"fleetgrid/internal/model"
)

// ViewSource yields the events currently known to the timeline.
type ViewSource func() []model.Event

// Scanner periodically classifies events against the wall clock and
// publishes overdue-return and late-arrival notices. Each event is
// reported once per condition until the condition clears.
type Scanner struct {
	interval time.Duration
	source   ViewSource
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	reported map[int64]events.Topic
}

func NewScanner(interval time.Duration, source ViewSource, bus *events.Bus, logger zerolog.Logger) *Scanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{
		interval: interval,
		source:   source,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		reported: make(map[int64]events.Topic),
	}
}

// Start begins the scan loop.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("overdue scanner started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("overdue scanner stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("overdue scanner stopped")
			return
		case <-ticker.C:
			s.Scan()
		}
	}
}

// Stop stops the scan loop.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// Scan runs a single pass over the current events.
func (s *Scanner) Scan() {
	now := s.now()
	evs := s.source()

	seen := make(map[int64]events.Topic, len(evs))
	for _, ev := range evs {
		var topic events.Topic
		switch {
		case ev.Status == model.StatusOngoing && now.After(ev.DisplayEnd()):
			topic = events.TopicOverdueReturn
		case ev.Status == model.StatusConfirmed && now.After(ev.Start):
			topic = events.TopicLateArrival
		default:
			continue
		}
		seen[ev.ID] = topic

		s.mu.Lock()
		already := s.reported[ev.ID] == topic
		if !already {
			s.reported[ev.ID] = topic
		}
		s.mu.Unlock()
		if already {
			continue
		}

		s.logger.Info().
			Int64("event_id", ev.ID).
			Str("status", string(ev.Status)).
			Str("topic", string(topic)).
			Msg("schedule deviation detected")
		s.bus.Publish(events.Notice{Topic: topic, At: now, EventID: ev.ID, Payload: ev})
	}

	// Forget events whose condition cleared so a relapse re-reports.
	s.mu.Lock()
	for id, topic := range s.reported {
		if seen[id] != topic {
			delete(s.reported, id)
		}
	}
	s.mu.Unlock()
}

// IsRunning reports whether the scan loop is active.
func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
