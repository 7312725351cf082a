// Package worker runs the bot: a Session pipes one poller into the router,
// and a Supervisor restarts sessions with a fresh poller when one fails.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/control"
	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/poller"
)

// Handler handles a single update.
type Handler interface {
	Handle(ctx context.Context, u commander.Update) (commander.Sent, error)
}

// Result summarizes a finished session.
type Result struct {
	Handled int
	Failed  int
	// Err is the terminal poller error, or the context error on shutdown.
	Err error
}

// Session handles the updates of one poller strictly one at a time.
type Session struct {
	ID      string
	poller  *poller.Poller
	handler Handler
	policy  control.Policy
	events  *EventLog
	eventID *int64
	logger  *zap.Logger
}

// NewSession creates a session. eventID is the parent of the session's
// update events and may be nil.
func NewSession(id string, p *poller.Poller, h Handler, policy control.Policy, events *EventLog, eventID *int64, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ID:      id,
		poller:  p,
		handler: h,
		policy:  policy,
		events:  events,
		eventID: eventID,
		logger:  logger.With(zap.String("session_id", id)),
	}
}

// Run consumes updates until the poller fails or ctx is cancelled. Handler
// errors never end the session.
func (s *Session) Run(ctx context.Context) Result {
	var res Result
	for u, err := range s.poller.All(ctx) {
		if err != nil {
			res.Err = err
			return res
		}
		if s.handle(ctx, u) {
			res.Handled++
		} else {
			res.Failed++
		}
	}
	res.Err = ctx.Err()
	return res
}

func (s *Session) handle(ctx context.Context, u commander.Update) bool {
	log := s.logger.With(zap.Int64("update_id", u.ID), zap.String("kind", u.Kind()))
	log.Debug("update received")

	hctx := ctx
	if s.policy.HandleTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, s.policy.HandleTimeout)
		defer cancel()
	}

	started := time.Now()
	sent, err := s.safeHandle(hctx, u)
	elapsed := time.Since(started)

	if err != nil {
		payload := map[string]any{
			"update_id":   u.ID,
			"kind":        u.Kind(),
			"error":       errorText(err),
			"error_class": Classify(err),
			"elapsed_ms":  elapsed.Milliseconds(),
		}
		if limitErr := control.CheckHandleTime(s.policy, started, time.Now()); limitErr != nil || errors.Is(err, context.DeadlineExceeded) {
			payload["limit"] = string(control.LimitHandleTime)
		}
		s.events.Log(s.eventID, db.EventUpdateFailed, payload)
		log.Warn("update handling failed", zap.Duration("elapsed", elapsed), zap.String("error", errorText(err)))
		return false
	}

	s.events.Log(s.eventID, db.EventUpdateHandled, map[string]any{
		"update_id":  u.ID,
		"kind":       u.Kind(),
		"chat_id":    sent.ChatID,
		"message_id": sent.MessageID,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	log.Debug("update handled", zap.Duration("elapsed", elapsed), zap.Int("message_id", sent.MessageID))
	return true
}

// safeHandle turns a handler panic into an error.
func (s *Session) safeHandle(ctx context.Context, u commander.Update) (sent commander.Sent, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("worker: handler panic: %v", r)
		}
	}()
	return s.handler.Handle(ctx, u)
}
