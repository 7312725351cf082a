package commander

import (
	"context"

	"github.com/go-telegram/bot/models"
)

// Source fetches batches of updates from the chat service.
type Source interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
}

// Replier is the outbound capability used by handlers.
type Replier interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) (Sent, error)
	EditMessage(ctx context.Context, edit MessageEdit) (Sent, error)
	AnswerCallback(ctx context.Context, answer CallbackAnswer) (bool, error)
}

// Commander is a full chat backend: updates in, replies out.
type Commander interface {
	Source
	Replier
}

// Update is one incoming event. Payload is always one of *MessageEvent,
// *CallbackEvent or *UnsupportedEvent.
type Update struct {
	ID      int64
	Payload Payload
}

// Payload is the closed set of update kinds.
type Payload interface {
	payload()
}

// MessageEvent is a new text message sent to the bot.
type MessageEvent struct {
	MessageID int
	ChatID    int64
	SenderID  int64
	Text      string
	Date      int
}

// CallbackEvent is an inline button press. Message is nil when the message
// the button was attached to is no longer available to the bot.
type CallbackEvent struct {
	ID       string
	SenderID int64
	Data     string
	Message  *MessageRef
}

// UnsupportedEvent stands for every update kind the bot does not handle.
// Tag is the update field name, e.g. "edited_message".
type UnsupportedEvent struct {
	Tag string
}

func (*MessageEvent) payload()     {}
func (*CallbackEvent) payload()    {}
func (*UnsupportedEvent) payload() {}

// MessageRef points at an existing chat message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// OutgoingMessage is a new message to send.
type OutgoingMessage struct {
	ChatID      int64
	Text        string
	ParseMode   models.ParseMode
	ReplyMarkup *models.InlineKeyboardMarkup
}

// MessageEdit replaces the text and keyboard of an existing message.
type MessageEdit struct {
	Target      MessageRef
	Text        string
	ParseMode   models.ParseMode
	ReplyMarkup *models.InlineKeyboardMarkup
}

// CallbackAnswer acknowledges a callback query.
type CallbackAnswer struct {
	CallbackID string
	Text       string
	ShowAlert  bool
}

// Sent describes a message accepted by the chat service.
type Sent struct {
	ChatID    int64
	MessageID int
	Date      int
}

// Kind returns a short name for the update payload, used in logs.
func (u Update) Kind() string {
	switch p := u.Payload.(type) {
	case *MessageEvent:
		return "message"
	case *CallbackEvent:
		return "callback_query"
	case *UnsupportedEvent:
		return p.Tag
	default:
		return "empty"
	}
}
