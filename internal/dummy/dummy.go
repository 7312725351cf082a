// Package dummy is a scripted stand-in for the Telegram Bot API, used to
// run the bot offline and to drive end-to-end tests.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the script is exhausted. Poll actions:
//
//	ok            no updates (waits like an idle long poll)
//	err:CLASS     fail; CLASS is network, protocol or api
//	sleep:MS      wait MS milliseconds, then no updates
//	msg:TEXT      one message update
//	msgb64:B64    one message update with base64 text
//	cb:DATA       one callback query on the last sent message
//
// Send actions are ok, err:CLASS and sleep:MS.
package dummy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/commander"
	"github.com/PoiScript/sagiri/internal/telegram"
)

// DefaultIdle bounds how long an "ok" poll waits.
const DefaultIdle = time.Second

type action struct {
	kind string
	arg  string
}

var prefixes = []string{"err", "sleep", "msg", "msgb64", "cb"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found || !slices.Contains(prefixes, kind) {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		actions = append(actions, action{kind: kind, arg: arg})
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// Commander is a scripted commander.Commander.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	msgID    int
	lastMsg  *commander.MessageRef
	chatID   int64
	senderID int64
	idle     time.Duration
	logger   *zap.Logger

	sent    []commander.OutgoingMessage
	edits   []commander.MessageEdit
	answers []commander.CallbackAnswer
}

// Option configures a Commander.
type Option func(*Commander)

// WithSender sets the chat and sender of scripted updates.
func WithSender(chatID, senderID int64) Option {
	return func(c *Commander) {
		c.chatID = chatID
		c.senderID = senderID
	}
}

// WithIdle sets how long an "ok" poll waits.
func WithIdle(d time.Duration) Option {
	return func(c *Commander) { c.idle = d }
}

// WithLogger logs every outgoing call.
func WithLogger(l *zap.Logger) Option {
	return func(c *Commander) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCommander creates a Commander from a poll and a send script.
func NewCommander(pollScript, sendScript string, opts ...Option) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	c := &Commander{
		poll:     poll,
		send:     send,
		chatID:   1,
		senderID: 1,
		idle:     DefaultIdle,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

var _ commander.Commander = (*Commander)(nil)

// GetUpdates plays the next poll action.
func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]commander.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "ok":
		wait := c.idle
		if t := time.Duration(timeout) * time.Second; t < wait {
			wait = t
		}
		return nil, pause(ctx, wait)
	case "err":
		return nil, scriptedError("getUpdates", a.arg)
	case "sleep":
		ms, _ := strconv.Atoi(a.arg)
		return nil, pause(ctx, time.Duration(ms)*time.Millisecond)
	case "msg":
		return c.message(a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, &telegram.ProtocolError{Method: "getUpdates", Err: fmt.Errorf("dummy msgb64 decode failed: %w", err)}
		}
		return c.message(string(raw)), nil
	case "cb":
		return c.callback(a.arg), nil
	default:
		return nil, nil
	}
}

func (c *Commander) message(text string) []commander.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateID++
	c.msgID++
	return []commander.Update{{
		ID: c.updateID,
		Payload: &commander.MessageEvent{
			MessageID: c.msgID,
			ChatID:    c.chatID,
			SenderID:  c.senderID,
			Text:      text,
			Date:      int(time.Now().Unix()),
		},
	}}
}

func (c *Commander) callback(data string) []commander.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateID++
	var ref *commander.MessageRef
	if c.lastMsg != nil {
		m := *c.lastMsg
		ref = &m
	}
	return []commander.Update{{
		ID: c.updateID,
		Payload: &commander.CallbackEvent{
			ID:       "dummy-" + strconv.FormatInt(c.updateID, 10),
			SenderID: c.senderID,
			Data:     data,
			Message:  ref,
		},
	}}
}

// SendMessage plays the next send action.
func (c *Commander) SendMessage(ctx context.Context, msg commander.OutgoingMessage) (commander.Sent, error) {
	if err := c.playSend(ctx, "sendMessage"); err != nil {
		return commander.Sent{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID++
	c.sent = append(c.sent, msg)
	c.lastMsg = &commander.MessageRef{ChatID: msg.ChatID, MessageID: c.msgID}
	c.logger.Info("dummy sendMessage", zap.Int64("chat_id", msg.ChatID), zap.String("text", msg.Text))
	return commander.Sent{ChatID: msg.ChatID, MessageID: c.msgID, Date: int(time.Now().Unix())}, nil
}

// EditMessage plays the next send action.
func (c *Commander) EditMessage(ctx context.Context, edit commander.MessageEdit) (commander.Sent, error) {
	if err := c.playSend(ctx, "editMessageText"); err != nil {
		return commander.Sent{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, edit)
	c.logger.Info("dummy editMessageText", zap.Int("message_id", edit.Target.MessageID), zap.String("text", edit.Text))
	return commander.Sent{ChatID: edit.Target.ChatID, MessageID: edit.Target.MessageID, Date: int(time.Now().Unix())}, nil
}

// AnswerCallback plays the next send action.
func (c *Commander) AnswerCallback(ctx context.Context, answer commander.CallbackAnswer) (bool, error) {
	if err := c.playSend(ctx, "answerCallbackQuery"); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, answer)
	c.logger.Info("dummy answerCallbackQuery", zap.String("callback_id", answer.CallbackID), zap.String("text", answer.Text))
	return true, nil
}

func (c *Commander) playSend(ctx context.Context, method string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return scriptedError(method, a.arg)
	case "sleep":
		ms, _ := strconv.Atoi(a.arg)
		return pause(ctx, time.Duration(ms)*time.Millisecond)
	default:
		return nil
	}
}

// Sent returns the messages sent so far.
func (c *Commander) Sent() []commander.OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commander.OutgoingMessage(nil), c.sent...)
}

// Edits returns the edits made so far.
func (c *Commander) Edits() []commander.MessageEdit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commander.MessageEdit(nil), c.edits...)
}

// Answers returns the callback answers so far.
func (c *Commander) Answers() []commander.CallbackAnswer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commander.CallbackAnswer(nil), c.answers...)
}

func scriptedError(method, class string) error {
	cause := errors.New("dummy error")
	switch emptyAs(class, "network") {
	case "network":
		return &telegram.NetworkError{Method: method, Err: cause}
	case "protocol":
		return &telegram.ProtocolError{Method: method, Status: 502, Err: cause}
	case "api":
		return &telegram.APIError{Method: method, Code: 400, Description: "Bad Request: dummy error"}
	default:
		return fmt.Errorf("dummy %s error class=%s", method, class)
	}
}

func pause(ctx context.Context, d time.Duration) error {
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

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
