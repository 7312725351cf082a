// Package render formats library pages and entries as Telegram HTML text
// with inline keyboards whose buttons carry command callback data.
package render

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/PoiScript/sagiri/internal/command"
	"github.com/PoiScript/sagiri/internal/kitsu"
)

// ParseMode is the parse mode every rendered text is written for.
const ParseMode = models.ParseModeHTML

const (
	emptyLibrary = "No anime in this list."
	indent       = "    "
)

// MaxFieldRunes caps every title before escaping, so a full page stays
// under Telegram's 4096 character limit without cutting through markup.
const MaxFieldRunes = 80

// View is rendered text plus its keyboard.
type View struct {
	Text   string
	Markup *models.InlineKeyboardMarkup
}

// List renders one page of userID's library. Rows are numbered from
// offset. Each row gets a detail button; Prev and Next buttons appear
// only when the page links carry a usable offset.
func List(userID, offset int64, page kitsu.Page) View {
	var (
		b    strings.Builder
		rows [][]models.InlineKeyboardButton
	)
	if len(page.Pairs) == 0 {
		b.WriteString(emptyLibrary)
	}
	for i, p := range page.Pairs {
		n := offset + int64(i)
		fmt.Fprintf(&b, "<b>%d|</b> %s\n", n, text(p.Anime.CanonicalTitle))
		fmt.Fprintf(&b, "%s%s\n", indent, text(orNull(p.Anime.JapaneseTitle)))
		fmt.Fprintf(&b, "%s<b>%s %s</b>\n", indent, text(statusLabel(p.Entry.Status)), progress(p))

		rows = append(rows, []models.InlineKeyboardButton{
			button(fmt.Sprintf("%d %s", n, clip(p.Anime.CanonicalTitle)), command.Detail{UserID: userID, AnimeID: p.Anime.ID}),
		})
	}

	var nav []models.InlineKeyboardButton
	if prev, ok := page.Links.PrevOffset(); ok {
		nav = append(nav, button("Prev", command.Offset{UserID: userID, Offset: prev}))
	}
	if next, ok := page.Links.NextOffset(); ok {
		nav = append(nav, button("Next", command.Offset{UserID: userID, Offset: next}))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	return View{Text: strings.TrimRight(b.String(), "\n"), Markup: keyboard(rows)}
}

// Detail renders a single entry with buttons to bump progress, mark it
// completed and go back to the first page.
func Detail(userID int64, p kitsu.Pair) View {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Title</b>: %s\n", text(p.Anime.CanonicalTitle))
	fmt.Fprintf(&b, "<b>Japanese Title</b>: %s\n", text(orNull(p.Anime.JapaneseTitle)))
	fmt.Fprintf(&b, "<b>Subtype</b>: %s\n", text(orUnknown(p.Anime.Subtype)))
	fmt.Fprintf(&b, "<b>Airing</b>: %s\n", text(orUnknown(p.Anime.Status)))
	fmt.Fprintf(&b, "<b>Progress</b>: %s %s", text(statusLabel(p.Entry.Status)), progress(p))

	var actions []models.InlineKeyboardButton
	if p.Anime.EpisodeCount == 0 || p.Entry.Progress < p.Anime.EpisodeCount {
		actions = append(actions, button("+1", command.Progress{
			UserID:   userID,
			EntryID:  p.Entry.ID,
			Episodes: p.Entry.Progress + 1,
		}))
	}
	if p.Entry.Status != "completed" {
		actions = append(actions, button("Completed", command.Status{
			UserID:  userID,
			EntryID: p.Entry.ID,
			Status:  "completed",
		}))
	}

	var rows [][]models.InlineKeyboardButton
	if len(actions) > 0 {
		rows = append(rows, actions)
	}
	rows = append(rows, []models.InlineKeyboardButton{
		button("Back to List", command.Offset{UserID: userID}),
	})
	return View{Text: b.String(), Markup: keyboard(rows)}
}

// text clips s and escapes it for HTML parse mode.
func text(s string) string {
	return html.EscapeString(clip(s))
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxFieldRunes {
		return s
	}
	return string(runes[:MaxFieldRunes-1]) + "…"
}

func button(label string, cmd command.QueryCommand) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{Text: label, CallbackData: cmd.CallbackData()}
}

// keyboard returns nil for no rows so that an empty keyboard is omitted
// from the request.
func keyboard(rows [][]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func progress(p kitsu.Pair) string {
	total := "?"
	if p.Anime.EpisodeCount > 0 {
		total = strconv.FormatInt(p.Anime.EpisodeCount, 10)
	}
	return fmt.Sprintf("[%d/%s]", p.Entry.Progress, total)
}

var statusLabels = map[string]string{
	"current":   "Current",
	"planned":   "Planned",
	"completed": "Completed",
	"on_hold":   "On Hold",
	"dropped":   "Dropped",
}

func statusLabel(s string) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return orUnknown(s)
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
