package telegram

import (
	"context"

	"github.com/go-telegram/bot/models"

	"github.com/PoiScript/sagiri/internal/commander"
)

// maxMessageRunes is the Bot API limit on message text length, counted
// after entity parsing.
const maxMessageRunes = 4096

type sendMessageParams struct {
	ChatID      int64                        `json:"chat_id"`
	Text        string                       `json:"text"`
	ParseMode   models.ParseMode             `json:"parse_mode,omitempty"`
	ReplyMarkup *models.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type editMessageTextParams struct {
	ChatID      int64                        `json:"chat_id"`
	MessageID   int                          `json:"message_id"`
	Text        string                       `json:"text"`
	ParseMode   models.ParseMode             `json:"parse_mode,omitempty"`
	ReplyMarkup *models.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type answerCallbackQueryParams struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert,omitempty"`
}

// SendMessage sends a new message to a chat.
func (c *Client) SendMessage(ctx context.Context, msg commander.OutgoingMessage) (commander.Sent, error) {
	if err := c.throttle(ctx); err != nil {
		return commander.Sent{}, err
	}
	var result models.Message
	err := c.Call(ctx, "sendMessage", sendMessageParams{
		ChatID:      msg.ChatID,
		Text:        fitText(msg.Text, msg.ParseMode),
		ParseMode:   msg.ParseMode,
		ReplyMarkup: msg.ReplyMarkup,
	}, &result)
	if err != nil {
		return commander.Sent{}, err
	}
	return sentFrom(&result), nil
}

// EditMessage replaces the text and inline keyboard of an existing message.
func (c *Client) EditMessage(ctx context.Context, edit commander.MessageEdit) (commander.Sent, error) {
	if err := c.throttle(ctx); err != nil {
		return commander.Sent{}, err
	}
	var result models.Message
	err := c.Call(ctx, "editMessageText", editMessageTextParams{
		ChatID:      edit.Target.ChatID,
		MessageID:   edit.Target.MessageID,
		Text:        fitText(edit.Text, edit.ParseMode),
		ParseMode:   edit.ParseMode,
		ReplyMarkup: edit.ReplyMarkup,
	}, &result)
	if err != nil {
		return commander.Sent{}, err
	}
	return sentFrom(&result), nil
}

// AnswerCallback acknowledges a callback query so the client stops showing
// its loading indicator.
func (c *Client) AnswerCallback(ctx context.Context, answer commander.CallbackAnswer) (bool, error) {
	if err := c.throttle(ctx); err != nil {
		return false, err
	}
	var ok bool
	err := c.Call(ctx, "answerCallbackQuery", answerCallbackQueryParams{
		CallbackQueryID: answer.CallbackID,
		Text:            answer.Text,
		ShowAlert:       answer.ShowAlert,
	}, &ok)
	return ok, err
}

// GetMe returns the bot's own user record.
func (c *Client) GetMe(ctx context.Context) (models.User, error) {
	var me models.User
	err := c.Call(ctx, "getMe", struct{}{}, &me)
	return me, err
}

var _ commander.Commander = (*Client)(nil)

func sentFrom(m *models.Message) commander.Sent {
	return commander.Sent{ChatID: m.Chat.ID, MessageID: m.ID, Date: m.Date}
}

// fitText cuts plain text to the Bot API limit. Formatted text is sent as
// is: cutting markup would break it, so its producer bounds the length.
func fitText(s string, mode models.ParseMode) string {
	if mode != "" {
		return s
	}
	return truncate(s, maxMessageRunes)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
