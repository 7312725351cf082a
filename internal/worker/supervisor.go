package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/control"
	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/poller"
)

// Supervisor runs sessions back to back. Every session gets a fresh poller
// starting at offset 0. Crash loops open a circuit that pauses
// restarts for the policy's cooldown.
type Supervisor struct {
	source      commander.Source
	handler     Handler
	policy      control.Policy
	pollTimeout int
	events      *EventLog
	processID   *int64
	logger      *zap.Logger

	// mu guards circuit and crashes.
	mu      sync.Mutex
	circuit *control.Circuit
	crashes *control.CrashWindow
	newID   func() string
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithPollTimeout sets the long-poll timeout of every poller (seconds).
func WithPollTimeout(seconds int) SupervisorOption {
	return func(s *Supervisor) { s.pollTimeout = seconds }
}

// WithEvents records session and circuit events under processEventID.
func WithEvents(events *EventLog, processEventID *int64) SupervisorOption {
	return func(s *Supervisor) {
		s.events = events
		s.processID = processEventID
	}
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(l *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(source commander.Source, handler Handler, policy control.Policy, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		source:      source,
		handler:     handler,
		policy:      policy,
		pollTimeout: poller.DefaultTimeout,
		logger:      zap.NewNop(),
		circuit:     control.NewCircuit(policy.CircuitCooldown),
		crashes:     control.NewCrashWindow(policy.CrashWindow, policy.CrashThreshold),
		newID:       uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run supervises sessions until ctx is cancelled. It returns nil on
// cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	consecutive := 0
	for seq := 1; ; seq++ {
		if err := s.waitForCircuit(ctx); err != nil {
			return nil
		}

		id := s.newID()
		started := time.Now()
		sessionEventID := s.events.Log(s.processID, db.EventSessionStarted, map[string]any{
			"session_id": id,
			"seq":        seq,
		})
		log := s.logger.With(zap.String("session_id", id), zap.Int("seq", seq))
		log.Info("session started")

		p := poller.New(s.source,
			poller.WithTimeout(s.pollTimeout),
			poller.WithLogger(log.Named("poller")),
		)
		res := NewSession(id, p, s.handler, s.policy, s.events, sessionEventID, s.logger).Run(ctx)
		uptime := time.Since(started)

		s.events.Log(sessionEventID, db.EventSessionEnded, map[string]any{
			"handled":        res.Handled,
			"failed":         res.Failed,
			"uptime_seconds": int(uptime.Seconds()),
			"error":          errorText(res.Err),
			"error_class":    Classify(res.Err),
		})
		if ctx.Err() != nil {
			log.Info("session stopped", zap.Int("handled", res.Handled))
			return nil
		}
		log.Warn("session ended",
			zap.Int("handled", res.Handled),
			zap.Int("failed", res.Failed),
			zap.Duration("uptime", uptime),
			zap.String("error", errorText(res.Err)),
		)

		if res.Handled > 0 || uptime >= s.policy.StableRun {
			consecutive = 0
			s.recordHealthy()
		} else {
			consecutive++
			s.recordCrash(Classify(res.Err), time.Now())
		}

		delay := s.policy.RestartBackoff(consecutive)
		s.events.Log(s.processID, db.EventRestartScheduled, map[string]any{
			"delay_ms":            delay.Milliseconds(),
			"consecutive_crashes": consecutive,
		})
		log.Info("restarting with a fresh poller", zap.Duration("delay", delay))
		if err := sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (s *Supervisor) recordHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashes.Reset()
	if !s.circuit.Reset() {
		return
	}
	s.events.Log(s.processID, db.EventCircuitClosed, map[string]any{"recovered": true})
	s.logger.Info("circuit closed")
}

// recordCrash trips the circuit on a crash loop, or on any crash of a
// half-open trial session.
func (s *Supervisor) recordCrash(class string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loop := s.crashes.Record(now)
	if loop {
		s.events.Log(s.processID, db.EventCrashLoopDetected, map[string]any{
			"threshold":      s.policy.CrashThreshold,
			"window_seconds": int(s.policy.CrashWindow.Seconds()),
			"error_class":    class,
		})
		s.logger.Error("crash loop detected", zap.String("error_class", class))
	}
	if !loop && s.circuit.State() != control.CircuitHalfOpen {
		return
	}
	if s.circuit.Trip(class, now) {
		s.events.Log(s.processID, db.EventCircuitOpened, map[string]any{
			"error_class":      class,
			"cooldown_seconds": int(s.circuit.Cooldown().Seconds()),
		})
		s.logger.Error("circuit opened", zap.String("error_class", class), zap.Duration("cooldown", s.circuit.Cooldown()))
	}
}

func (s *Supervisor) waitForCircuit(ctx context.Context) error {
	for {
		s.mu.Lock()
		wait, trial := s.circuit.Admit(time.Now())
		class := s.circuit.Cause()
		s.mu.Unlock()

		if wait == 0 {
			if trial {
				s.events.Log(s.processID, db.EventCircuitHalfOpen, map[string]any{"error_class": class})
				s.logger.Info("circuit half-open; trying a new session")
			}
			return nil
		}
		s.logger.Info("circuit open; waiting", zap.Duration("remaining", wait))
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Supervisor) circuitState() control.CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuit.State()
}
