package handler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/command"
	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/render"
)

const (
	textUnknownCommand = "Unknown command"
	textNotRegistered  = "You are not registered. Ask the bot owner to link your Kitsu account, then send /list again."
	textUsage          = "I keep track of your Kitsu library.\n\n" +
		"/list - show your current and planned anime\n" +
		"/update - reload the user registry\n" +
		"/help - show this message"
)

func (r *Router) handleMessage(ctx context.Context, m *commander.MessageEvent) (commander.Sent, error) {
	cmd, err := command.ParseMessage(m.Text)
	if err != nil {
		r.logger.Debug("unknown command", zap.Int64("chat_id", m.ChatID), zap.Error(err))
		return r.reply(ctx, m.ChatID, textUnknownCommand)
	}

	switch cmd.(type) {
	case command.List:
		return r.list(ctx, m)
	case command.Refresh:
		return r.refresh(ctx, m)
	case command.Start, command.Help:
		return r.reply(ctx, m.ChatID, textUsage)
	default:
		return r.reply(ctx, m.ChatID, textUnknownCommand)
	}
}

func (r *Router) list(ctx context.Context, m *commander.MessageEvent) (commander.Sent, error) {
	user, ok, err := r.users.Lookup(ctx, m.SenderID)
	if err != nil {
		return r.failMessage(ctx, m.ChatID, fmt.Errorf("lookup user %d: %w", m.SenderID, err))
	}
	if !ok {
		return r.reply(ctx, m.ChatID, textNotRegistered)
	}

	page, err := r.library.FetchLibrary(ctx, user.KitsuID, 0)
	if err != nil {
		return r.failMessage(ctx, m.ChatID, fmt.Errorf("fetch library of %d: %w", user.KitsuID, err))
	}
	view := render.List(user.KitsuID, 0, page)
	sent, err := r.replier.SendMessage(ctx, commander.OutgoingMessage{
		ChatID:      m.ChatID,
		Text:        view.Text,
		ParseMode:   render.ParseMode,
		ReplyMarkup: view.Markup,
	})
	if err != nil {
		return commander.Sent{}, fmt.Errorf("handler: send list: %w", err)
	}
	return sent, nil
}

func (r *Router) refresh(ctx context.Context, m *commander.MessageEvent) (commander.Sent, error) {
	n, err := r.users.Refresh(ctx)
	if err != nil {
		return r.failMessage(ctx, m.ChatID, fmt.Errorf("refresh registry: %w", err))
	}
	return r.reply(ctx, m.ChatID, fmt.Sprintf("Successful update: %d users", n))
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) (commander.Sent, error) {
	sent, err := r.replier.SendMessage(ctx, commander.OutgoingMessage{ChatID: chatID, Text: text})
	if err != nil {
		return commander.Sent{}, fmt.Errorf("handler: reply to chat %d: %w", chatID, err)
	}
	return sent, nil
}

// failMessage tells the chat that cause happened and returns it.
func (r *Router) failMessage(ctx context.Context, chatID int64, cause error) (commander.Sent, error) {
	sent, err := r.reply(ctx, chatID, userMessage(cause))
	return sent, errors.Join(fmt.Errorf("handler: %w", cause), err)
}
