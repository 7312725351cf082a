// Package command parses chat commands and inline-button callback data.
//
// Message commands are a slash followed by a keyword ("/list"). Callback
// data is a slash-delimited path rooted at a Kitsu user id, for example
// "/42/offset/10/" or "/42/status/9/completed/". Both grammars are total:
// input either parses completely or yields a *ParseFailure.
package command

import (
	"fmt"
	"slices"
)

// MaxCallbackData is Telegram's limit on callback_data, in bytes.
const MaxCallbackData = 64

// ParseFailure reports input that matches no command.
type ParseFailure struct {
	Input  string
	Reason string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("command: cannot parse %q: %s", e.Input, e.Reason)
}

// MessageCommand is a command sent as chat text.
type MessageCommand interface {
	messageCommand()
}

type (
	// List shows the sender's current and planned entries.
	List struct{}
	// Refresh reloads the user registry ("/update").
	Refresh struct{}
	// Start greets the user.
	Start struct{}
	// Help prints usage.
	Help struct{}
)

func (List) messageCommand()    {}
func (Refresh) messageCommand() {}
func (Start) messageCommand()   {}
func (Help) messageCommand()    {}

// QueryCommand is a command carried in callback data. UserID is always the
// Kitsu user whose library the button belongs to.
type QueryCommand interface {
	// CallbackData encodes the command in its canonical form.
	CallbackData() string
	Owner() int64
	queryCommand()
}

// Offset shows the library page starting at Offset.
type Offset struct {
	UserID int64
	Offset int64
}

// Detail shows a single library entry, addressed by anime id.
type Detail struct {
	UserID  int64
	AnimeID int64
}

// Progress sets the watched episode count of a library entry.
type Progress struct {
	UserID   int64
	EntryID  int64
	Episodes int64
}

// Status sets the status of a library entry.
type Status struct {
	UserID  int64
	EntryID int64
	Status  string
}

// Statuses are the library entry statuses accepted by Status.
var Statuses = []string{"current", "planned", "completed", "on_hold", "dropped"}

func (c Offset) CallbackData() string { return fmt.Sprintf("/%d/offset/%d/", c.UserID, c.Offset) }
func (c Detail) CallbackData() string { return fmt.Sprintf("/%d/detail/%d/", c.UserID, c.AnimeID) }
func (c Progress) CallbackData() string {
	return fmt.Sprintf("/%d/progress/%d/%d/", c.UserID, c.EntryID, c.Episodes)
}
func (c Status) CallbackData() string {
	return fmt.Sprintf("/%d/status/%d/%s/", c.UserID, c.EntryID, c.Status)
}

func (c Offset) Owner() int64   { return c.UserID }
func (c Detail) Owner() int64   { return c.UserID }
func (c Progress) Owner() int64 { return c.UserID }
func (c Status) Owner() int64   { return c.UserID }

func (Offset) queryCommand()   {}
func (Detail) queryCommand()   {}
func (Progress) queryCommand() {}
func (Status) queryCommand()   {}

var messageKeyword = alt(
	value[MessageCommand]("list", List{}),
	value[MessageCommand]("update", Refresh{}),
	value[MessageCommand]("start", Start{}),
	value[MessageCommand]("help", Help{}),
)

// ParseMessage parses chat text. The keyword is matched as a prefix, so
// "/list@sagiri_bot" is a List.
func ParseMessage(text string) (MessageCommand, error) {
	_, rest, ok := tag("/")(text)
	if !ok {
		return nil, &ParseFailure{Input: text, Reason: "missing leading slash"}
	}
	cmd, _, ok := messageKeyword(rest)
	if !ok {
		return nil, &ParseFailure{Input: text, Reason: "unknown command"}
	}
	return cmd, nil
}

// subPath parses what follows "/<user>/".
type subPath func(user int64) parser[QueryCommand]

var subPaths = []subPath{
	func(user int64) parser[QueryCommand] {
		return func(in string) (QueryCommand, string, bool) {
			_, rest, ok := tag("offset/")(in)
			if !ok {
				return nil, in, false
			}
			off, rest, ok := field(integer())(rest)
			if !ok {
				return nil, in, false
			}
			return Offset{UserID: user, Offset: off}, rest, true
		}
	},
	func(user int64) parser[QueryCommand] {
		return func(in string) (QueryCommand, string, bool) {
			_, rest, ok := tag("detail/")(in)
			if !ok {
				return nil, in, false
			}
			anime, rest, ok := field(integer())(rest)
			if !ok {
				return nil, in, false
			}
			return Detail{UserID: user, AnimeID: anime}, rest, true
		}
	},
	func(user int64) parser[QueryCommand] {
		return func(in string) (QueryCommand, string, bool) {
			_, rest, ok := tag("progress/")(in)
			if !ok {
				return nil, in, false
			}
			entry, rest, ok := field(integer())(rest)
			if !ok {
				return nil, in, false
			}
			episodes, rest, ok := field(integer())(rest)
			if !ok {
				return nil, in, false
			}
			return Progress{UserID: user, EntryID: entry, Episodes: episodes}, rest, true
		}
	},
	func(user int64) parser[QueryCommand] {
		return func(in string) (QueryCommand, string, bool) {
			_, rest, ok := tag("status/")(in)
			if !ok {
				return nil, in, false
			}
			entry, rest, ok := field(integer())(rest)
			if !ok {
				return nil, in, false
			}
			status, rest, ok := field(segment())(rest)
			if !ok || !slices.Contains(Statuses, status) {
				return nil, in, false
			}
			return Status{UserID: user, EntryID: entry, Status: status}, rest, true
		}
	},
}

// ParseQuery parses callback data. The whole input must be consumed.
func ParseQuery(data string) (QueryCommand, error) {
	_, rest, ok := tag("/")(data)
	if !ok {
		return nil, &ParseFailure{Input: data, Reason: "missing leading slash"}
	}
	user, rest, ok := field(integer())(rest)
	if !ok {
		return nil, &ParseFailure{Input: data, Reason: "missing user id"}
	}

	ps := make([]parser[QueryCommand], len(subPaths))
	for i, sp := range subPaths {
		ps[i] = sp(user)
	}
	cmd, rest, ok := alt(ps...)(rest)
	if !ok {
		return nil, &ParseFailure{Input: data, Reason: "unknown action"}
	}
	if rest != "" {
		return nil, &ParseFailure{Input: data, Reason: fmt.Sprintf("trailing input %q", rest)}
	}
	return cmd, nil
}
