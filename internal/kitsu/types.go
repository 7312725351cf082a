package kitsu

import (
	"net/url"
	"strconv"
	"strings"
)

// Anime is the subset of anime attributes the bot displays.
type Anime struct {
	ID             int64
	Slug           string
	CanonicalTitle string
	JapaneseTitle  string
	Subtype        string
	Status         string
	// EpisodeCount is zero when Kitsu does not know it.
	EpisodeCount int64
}

// Entry is a library entry: one user's record of one anime.
type Entry struct {
	ID        int64
	AnimeID   int64
	Progress  int64
	Status    string
	UpdatedAt string
}

// Pair joins an entry with the anime it references.
type Pair struct {
	Entry Entry
	Anime Anime
}

// Page is one page of a user's library.
type Page struct {
	Pairs []Pair
	Links Links
}

// Links are the JSON:API pagination links of a collection response.
type Links struct {
	First string `json:"first,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
	Last  string `json:"last,omitempty"`
}

// PrevOffset is the page[offset] of the previous page, if there is one.
func (l Links) PrevOffset() (int64, bool) { return OffsetFromLink(l.Prev) }

// NextOffset is the page[offset] of the next page, if there is one.
func (l Links) NextOffset() (int64, bool) { return OffsetFromLink(l.Next) }

// OffsetFromLink extracts the page[offset] query parameter of a link. It
// reports false for an empty link, an unparsable URL or a missing or
// malformed parameter.
func OffsetFromLink(link string) (int64, bool) {
	if strings.TrimSpace(link) == "" {
		return 0, false
	}
	u, err := url.Parse(link)
	if err != nil {
		return 0, false
	}
	raw := u.Query().Get("page[offset]")
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ErrorObject is a JSON:API error object.
type ErrorObject struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status string `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
}

// APIError is returned when Kitsu rejects a request.
type APIError struct {
	StatusCode int
	Errors     []ErrorObject
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return "kitsu: request failed with status " + strconv.Itoa(e.StatusCode)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, obj := range e.Errors {
		switch {
		case obj.Title != "" && obj.Detail != "":
			parts = append(parts, obj.Title+": "+obj.Detail)
		case obj.Detail != "":
			parts = append(parts, obj.Detail)
		default:
			parts = append(parts, obj.Title)
		}
	}
	return "kitsu: " + strings.Join(parts, "; ")
}
