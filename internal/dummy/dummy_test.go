package dummy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/telegram"
)

func TestNewCommander_InvalidScript(t *testing.T) {
	if _, err := NewCommander("boom", "ok"); err == nil {
		t.Fatal("expected parse error for invalid poll script")
	}
	if _, err := NewCommander("ok", "nope:1"); err == nil {
		t.Fatal("expected parse error for invalid send script")
	}
}

func TestCommander_MsgAction(t *testing.T) {
	c, err := NewCommander("msg:/list,msgb64:L2hlbHA=", "ok", WithSender(7, 9))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	updates, err := c.GetUpdates(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	msg, ok := updates[0].Payload.(*commander.MessageEvent)
	if !ok {
		t.Fatalf("expected message, got %T", updates[0].Payload)
	}
	if msg.Text != "/list" || msg.ChatID != 7 || msg.SenderID != 9 {
		t.Fatalf("unexpected message %+v", msg)
	}

	updates, err = c.GetUpdates(ctx, updates[0].ID+1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := updates[0].Payload.(*commander.MessageEvent).Text; got != "/help" {
		t.Fatalf("expected /help, got %q", got)
	}
	if updates[0].ID != 2 {
		t.Fatalf("expected increasing update ids, got %d", updates[0].ID)
	}
}

func TestCommander_CallbackTargetsLastSentMessage(t *testing.T) {
	c, err := NewCommander("cb:/1/offset/0/,cb:/1/offset/10/", "ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	updates, err := c.GetUpdates(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	cb := updates[0].Payload.(*commander.CallbackEvent)
	if cb.Message != nil {
		t.Fatalf("expected no message before anything was sent, got %+v", cb.Message)
	}

	sent, err := c.SendMessage(ctx, commander.OutgoingMessage{ChatID: 1, Text: "list"})
	if err != nil {
		t.Fatal(err)
	}
	updates, err = c.GetUpdates(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	cb = updates[0].Payload.(*commander.CallbackEvent)
	if cb.Message == nil || cb.Message.MessageID != sent.MessageID {
		t.Fatalf("expected callback on message %d, got %+v", sent.MessageID, cb.Message)
	}
	if cb.Data != "/1/offset/10/" {
		t.Fatalf("unexpected data %q", cb.Data)
	}
}

func TestCommander_ErrorClasses(t *testing.T) {
	c, err := NewCommander("err:network,err:protocol,err:api,err:other", "err:api")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var netErr *telegram.NetworkError
	if _, err := c.GetUpdates(ctx, 0, 0); !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	var protoErr *telegram.ProtocolError
	if _, err := c.GetUpdates(ctx, 0, 0); !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	var apiErr *telegram.APIError
	if _, err := c.GetUpdates(ctx, 0, 0); !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if _, err := c.GetUpdates(ctx, 0, 0); err == nil {
		t.Fatal("expected generic error")
	}

	if _, err := c.SendMessage(ctx, commander.OutgoingMessage{}); !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError from send, got %v", err)
	}
	if len(c.Sent()) != 0 {
		t.Fatal("failed send must not be recorded")
	}
}

func TestCommander_OkWaitsAndHonorsCancel(t *testing.T) {
	c, err := NewCommander("ok", "ok", WithIdle(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.GetUpdates(ctx, 0, 120)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("ok poll ignored cancellation")
	}

	// A zero long-poll timeout returns immediately.
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil || len(updates) != 0 {
		t.Fatalf("expected empty batch, got %v %v", updates, err)
	}
}

func TestCommander_ScriptRepeatsLastAction(t *testing.T) {
	c, err := NewCommander("msg:a,msg:b", "ok")
	if err != nil {
		t.Fatal(err)
	}
	var texts []string
	for range 3 {
		updates, err := c.GetUpdates(context.Background(), 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		texts = append(texts, updates[0].Payload.(*commander.MessageEvent).Text)
	}
	if texts[0] != "a" || texts[1] != "b" || texts[2] != "b" {
		t.Fatalf("unexpected sequence %v", texts)
	}
}

func TestCommander_RecordsEditsAndAnswers(t *testing.T) {
	c, err := NewCommander("ok", "ok")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	target := commander.MessageRef{ChatID: 1, MessageID: 3}
	if _, err := c.EditMessage(ctx, commander.MessageEdit{Target: target, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	ok, err := c.AnswerCallback(ctx, commander.CallbackAnswer{CallbackID: "a"})
	if err != nil || !ok {
		t.Fatalf("answer failed: %v %v", ok, err)
	}
	if len(c.Edits()) != 1 || c.Edits()[0].Target != target {
		t.Fatalf("unexpected edits %+v", c.Edits())
	}
	if len(c.Answers()) != 1 {
		t.Fatalf("unexpected answers %+v", c.Answers())
	}
}
