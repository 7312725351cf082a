package handler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/command"
	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/kitsu"
	"github.com/PoiScript/sagiri/internal/render"
	"github.com/PoiScript/sagiri/internal/telegram"
)

const (
	textOutdated      = "This message is too old. Send /list again."
	textUnknownAction = "Unknown action"
	textNotYourList   = "This is not your list."
)

func (r *Router) handleCallback(ctx context.Context, cb *commander.CallbackEvent) (commander.Sent, error) {
	if cb.Message == nil {
		err := r.answer(ctx, cb, textOutdated, true)
		return commander.Sent{}, errors.Join(ErrOutdatedMessage, err)
	}

	cmd, err := command.ParseQuery(cb.Data)
	if err != nil {
		r.logger.Debug("unknown callback data", zap.String("data", cb.Data), zap.Error(err))
		return commander.Sent{}, r.answer(ctx, cb, textUnknownAction, false)
	}

	var (
		view   render.View
		notice string
	)
	switch c := cmd.(type) {
	case command.Offset:
		page, err := r.library.FetchLibrary(ctx, c.UserID, c.Offset)
		if err != nil {
			return r.failCallback(ctx, cb, fmt.Errorf("fetch library of %d at %d: %w", c.UserID, c.Offset, err))
		}
		view = render.List(c.UserID, c.Offset, page)

	case command.Detail:
		pair, err := r.library.FetchEntry(ctx, c.UserID, c.AnimeID)
		if err != nil {
			return r.failCallback(ctx, cb, fmt.Errorf("fetch entry of %d for anime %d: %w", c.UserID, c.AnimeID, err))
		}
		view = render.Detail(c.UserID, pair)

	case command.Progress, command.Status:
		token, ok, err := r.ownerToken(ctx, cb.SenderID, c.Owner())
		if err != nil {
			return r.failCallback(ctx, cb, err)
		}
		if !ok {
			return commander.Sent{}, r.answer(ctx, cb, textNotYourList, true)
		}
		var pair kitsu.Pair
		switch c := c.(type) {
		case command.Progress:
			pair, err = r.library.SetProgress(ctx, token, c.EntryID, c.Episodes)
			notice = fmt.Sprintf("Progress: %d", c.Episodes)
		case command.Status:
			pair, err = r.library.SetStatus(ctx, token, c.EntryID, c.Status)
			notice = fmt.Sprintf("Status: %s", c.Status)
		}
		if err != nil {
			return r.failCallback(ctx, cb, fmt.Errorf("update entry: %w", err))
		}
		view = render.Detail(c.Owner(), pair)

	default:
		return commander.Sent{}, r.answer(ctx, cb, textUnknownAction, false)
	}

	sent, err := r.edit(ctx, *cb.Message, view)
	if err != nil {
		ackErr := r.answer(ctx, cb, "", false)
		return commander.Sent{}, errors.Join(err, ackErr)
	}
	return sent, r.answer(ctx, cb, notice, false)
}

// ownerToken returns the Kitsu token of sender if sender owns the Kitsu
// account kitsuID.
func (r *Router) ownerToken(ctx context.Context, sender, kitsuID int64) (string, bool, error) {
	user, ok, err := r.users.Lookup(ctx, sender)
	if err != nil {
		return "", false, fmt.Errorf("lookup user %d: %w", sender, err)
	}
	if !ok || user.KitsuID != kitsuID {
		return "", false, nil
	}
	return user.KitsuToken, true, nil
}

// edit replaces the message in place. An edit that changes nothing counts
// as success so that redelivered callbacks stay harmless.
func (r *Router) edit(ctx context.Context, target commander.MessageRef, view render.View) (commander.Sent, error) {
	sent, err := r.replier.EditMessage(ctx, commander.MessageEdit{
		Target:      target,
		Text:        view.Text,
		ParseMode:   render.ParseMode,
		ReplyMarkup: view.Markup,
	})
	if telegram.IsNotModified(err) {
		return commander.Sent{ChatID: target.ChatID, MessageID: target.MessageID}, nil
	}
	if err != nil {
		return commander.Sent{}, fmt.Errorf("handler: edit message %d: %w", target.MessageID, err)
	}
	return sent, nil
}

func (r *Router) answer(ctx context.Context, cb *commander.CallbackEvent, text string, alert bool) error {
	if _, err := r.replier.AnswerCallback(ctx, commander.CallbackAnswer{
		CallbackID: cb.ID,
		Text:       text,
		ShowAlert:  alert,
	}); err != nil {
		return fmt.Errorf("handler: answer callback %s: %w", cb.ID, err)
	}
	return nil
}

// failCallback shows cause to the user as an alert and returns it.
func (r *Router) failCallback(ctx context.Context, cb *commander.CallbackEvent, cause error) (commander.Sent, error) {
	ackErr := r.answer(ctx, cb, userMessage(cause), true)
	return commander.Sent{}, errors.Join(fmt.Errorf("handler: %w", cause), ackErr)
}
