package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-telegram/bot/models"

	"github.com/PoiScript/sagiri/internal/commander"
)

// maxUpdatesPerBatch is the Bot API upper bound for getUpdates.limit.
const maxUpdatesPerBatch = 100

type getUpdatesParams struct {
	Offset  int64 `json:"offset"`
	Timeout int   `json:"timeout"`
	Limit   int   `json:"limit"`
}

// GetUpdates calls the getUpdates API and returns the batch in server order.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]commander.Update, error) {
	var raws []json.RawMessage
	params := getUpdatesParams{Offset: offset, Timeout: timeout, Limit: maxUpdatesPerBatch}
	if err := c.Call(ctx, "getUpdates", params, &raws); err != nil {
		return nil, err
	}

	updates := make([]commander.Update, 0, len(raws))
	for i, raw := range raws {
		u, err := DecodeUpdate(raw)
		if err != nil {
			return nil, &ProtocolError{Method: "getUpdates", Status: 200, Err: fmt.Errorf("update #%d: %w", i, err)}
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// DecodeUpdate converts one raw Bot API update into the closed update variant.
func DecodeUpdate(raw json.RawMessage) (commander.Update, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return commander.Update{}, err
	}
	if _, ok := fields["update_id"]; !ok {
		return commander.Update{}, fmt.Errorf("missing update_id")
	}

	var u models.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return commander.Update{}, err
	}
	return commander.Update{ID: int64(u.ID), Payload: convertPayload(&u, fields)}, nil
}

func convertPayload(u *models.Update, fields map[string]json.RawMessage) commander.Payload {
	switch {
	case u.Message != nil:
		msg := u.Message
		ev := &commander.MessageEvent{
			MessageID: msg.ID,
			ChatID:    msg.Chat.ID,
			Text:      msg.Text,
			Date:      msg.Date,
		}
		if msg.From != nil {
			ev.SenderID = msg.From.ID
		}
		return ev
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		ev := &commander.CallbackEvent{
			ID:       cb.ID,
			SenderID: cb.From.ID,
			Data:     cb.Data,
		}
		// Inaccessible messages are decoded into InaccessibleMessage and
		// leave Message nil, same as an absent message.
		if m := cb.Message.Message; m != nil {
			ev.Message = &commander.MessageRef{ChatID: m.Chat.ID, MessageID: m.ID}
		}
		return ev
	default:
		return &commander.UnsupportedEvent{Tag: payloadTag(fields)}
	}
}

func payloadTag(fields map[string]json.RawMessage) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "update_id" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "unknown"
	}
	sort.Strings(keys)
	return keys[0]
}
