// Package handler routes updates to command handlers and talks back to the
// chat through a commander.Replier.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/kitsu"
)

// ErrOutdatedMessage is returned for callbacks whose message Telegram no
// longer provides.
var ErrOutdatedMessage = errors.New("handler: callback message is no longer available")

// Library is the Kitsu side of the bot.
type Library interface {
	FetchLibrary(ctx context.Context, userID, offset int64) (kitsu.Page, error)
	FetchEntry(ctx context.Context, userID, animeID int64) (kitsu.Pair, error)
	SetProgress(ctx context.Context, token string, entryID, episodes int64) (kitsu.Pair, error)
	SetStatus(ctx context.Context, token string, entryID int64, status string) (kitsu.Pair, error)
}

// Users resolves Telegram senders to Kitsu accounts.
type Users interface {
	Lookup(ctx context.Context, telegramID int64) (db.User, bool, error)
	Refresh(ctx context.Context) (int, error)
}

// Router handles one update at a time.
type Router struct {
	replier commander.Replier
	library Library
	users   Users
	logger  *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(replier commander.Replier, library Library, users Users, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{replier: replier, library: library, users: users, logger: logger}
}

// Handle dispatches one update. The returned Sent describes the message
// that was sent or edited, if any. Unsupported updates are ignored.
func (r *Router) Handle(ctx context.Context, u commander.Update) (commander.Sent, error) {
	switch p := u.Payload.(type) {
	case *commander.MessageEvent:
		return r.handleMessage(ctx, p)
	case *commander.CallbackEvent:
		return r.handleCallback(ctx, p)
	default:
		r.logger.Debug("ignoring update", zap.Int64("update_id", u.ID), zap.String("kind", u.Kind()))
		return commander.Sent{}, nil
	}
}

// userMessage is the text shown to the user for a failed operation.
func userMessage(err error) string {
	var kitsuErr *kitsu.APIError
	switch {
	case errors.As(err, &kitsuErr):
		return fmt.Sprintf("Kitsu rejected the request: %s", strings.TrimPrefix(kitsuErr.Error(), "kitsu: "))
	case errors.Is(err, kitsu.ErrEntryNotFound):
		return "This anime is no longer in the list."
	case errors.Is(err, context.DeadlineExceeded):
		return "Kitsu took too long to answer, please try again."
	default:
		return "Something went wrong, please try again later."
	}
}
