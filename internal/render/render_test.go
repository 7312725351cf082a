package render

import (
	"html"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PoiScript/sagiri/internal/command"
	"github.com/PoiScript/sagiri/internal/kitsu"
)

func samplePage() kitsu.Page {
	return kitsu.Page{
		Pairs: []kitsu.Pair{
			{
				Entry: kitsu.Entry{ID: 501, AnimeID: 12, Progress: 3, Status: "current"},
				Anime: kitsu.Anime{ID: 12, CanonicalTitle: "One Piece", EpisodeCount: 1000},
			},
			{
				Entry: kitsu.Entry{ID: 502, AnimeID: 7, Status: "planned"},
				Anime: kitsu.Anime{ID: 7, CanonicalTitle: "Tom & Jerry <3", JapaneseTitle: "氷菓"},
			},
		},
		Links: kitsu.Links{
			Prev: "https://kitsu.io/api/edge/library-entries?page%5Boffset%5D=0",
			Next: "https://kitsu.io/api/edge/library-entries?page%5Boffset%5D=20",
		},
	}
}

func TestList_Text(t *testing.T) {
	v := List(42, 10, samplePage())
	want := "<b>10|</b> One Piece\n" +
		"    null\n" +
		"    <b>Current [3/1000]</b>\n" +
		"<b>11|</b> Tom &amp; Jerry &lt;3\n" +
		"    氷菓\n" +
		"    <b>Planned [0/?]</b>"
	assert.Equal(t, want, v.Text)
}

func TestList_Keyboard(t *testing.T) {
	v := List(42, 10, samplePage())
	require.NotNil(t, v.Markup)
	rows := v.Markup.InlineKeyboard
	require.Len(t, rows, 3)

	assert.Equal(t, "10 One Piece", rows[0][0].Text)
	assert.Equal(t, "/42/detail/12/", rows[0][0].CallbackData)
	assert.Equal(t, "11 Tom & Jerry <3", rows[1][0].Text)
	assert.Equal(t, "/42/detail/7/", rows[1][0].CallbackData)

	require.Len(t, rows[2], 2)
	assert.Equal(t, "Prev", rows[2][0].Text)
	assert.Equal(t, "/42/offset/0/", rows[2][0].CallbackData)
	assert.Equal(t, "Next", rows[2][1].Text)
	assert.Equal(t, "/42/offset/20/", rows[2][1].CallbackData)
}

func TestList_OmitsNavigationWithoutOffset(t *testing.T) {
	page := samplePage()
	page.Links = kitsu.Links{Next: "https://kitsu.io/api/edge/library-entries?page%5Blimit%5D=10"}

	rows := List(42, 0, page).Markup.InlineKeyboard
	require.Len(t, rows, 2, "detail rows only")
	for _, row := range rows {
		for _, b := range row {
			assert.NotEqual(t, "Next", b.Text)
			assert.NotEqual(t, "Prev", b.Text)
		}
	}
}

func TestList_Empty(t *testing.T) {
	v := List(42, 0, kitsu.Page{})
	assert.Equal(t, emptyLibrary, v.Text)
	assert.Nil(t, v.Markup)
}

func TestList_DetailButtonsRoundTrip(t *testing.T) {
	page := samplePage()
	for n := 0; n < 5; n++ {
		page.Pairs = append(page.Pairs, kitsu.Pair{
			Entry: kitsu.Entry{ID: int64(900 + n)},
			Anime: kitsu.Anime{ID: int64(40000 + n), CanonicalTitle: "x"},
		})
	}
	rows := List(140000, 0, page).Markup.InlineKeyboard
	for i, p := range page.Pairs {
		cmd, err := command.ParseQuery(rows[i][0].CallbackData)
		require.NoError(t, err)
		assert.Equal(t, command.Detail{UserID: 140000, AnimeID: p.Anime.ID}, cmd)
	}
}

func TestDetail(t *testing.T) {
	p := kitsu.Pair{
		Entry: kitsu.Entry{ID: 501, Progress: 3, Status: "current"},
		Anime: kitsu.Anime{ID: 12, CanonicalTitle: "Hyouka", JapaneseTitle: "氷菓", Subtype: "TV", Status: "finished", EpisodeCount: 22},
	}
	v := Detail(42, p)
	assert.Equal(t, "<b>Title</b>: Hyouka\n"+
		"<b>Japanese Title</b>: 氷菓\n"+
		"<b>Subtype</b>: TV\n"+
		"<b>Airing</b>: finished\n"+
		"<b>Progress</b>: Current [3/22]", v.Text)

	rows := v.Markup.InlineKeyboard
	require.Len(t, rows, 2)
	require.Len(t, rows[0], 2)
	assert.Equal(t, "/42/progress/501/4/", rows[0][0].CallbackData)
	assert.Equal(t, "/42/status/501/completed/", rows[0][1].CallbackData)
	assert.Equal(t, "Back to List", rows[1][0].Text)
	assert.Equal(t, "/42/offset/0/", rows[1][0].CallbackData)
}

func TestDetail_CompletedEntryOnlyGoesBack(t *testing.T) {
	p := kitsu.Pair{
		Entry: kitsu.Entry{ID: 501, Progress: 22, Status: "completed"},
		Anime: kitsu.Anime{ID: 12, CanonicalTitle: "Hyouka", EpisodeCount: 22},
	}
	rows := Detail(42, p).Markup.InlineKeyboard
	require.Len(t, rows, 1)
	assert.Equal(t, "Back to List", rows[0][0].Text)
}

var tags = regexp.MustCompile(`<[^>]*>`)

// visibleLength counts characters the way Telegram does after parsing HTML.
func visibleLength(s string) int {
	return utf8.RuneCountInString(html.UnescapeString(tags.ReplaceAllString(s, "")))
}

func TestList_LongTitlesStayWithinMessageLimit(t *testing.T) {
	long := strings.Repeat("Tom & Jerry <3 ", 100)
	var page kitsu.Page
	for i := range 20 {
		page.Pairs = append(page.Pairs, kitsu.Pair{
			Entry: kitsu.Entry{ID: int64(i + 1), AnimeID: int64(i + 1), Status: "current"},
			Anime: kitsu.Anime{ID: int64(i + 1), CanonicalTitle: long, JapaneseTitle: long},
		})
	}

	v := List(42, 0, page)
	assert.LessOrEqual(t, visibleLength(v.Text), 4096)
	// Clipping happens before escaping, so no entity is cut in half.
	assert.Equal(t, strings.Count(v.Text, "&"), strings.Count(v.Text, "&amp;")+strings.Count(v.Text, "&lt;"))
	assert.Contains(t, v.Text, "…")
	for _, row := range v.Markup.InlineKeyboard {
		for _, b := range row {
			assert.LessOrEqual(t, utf8.RuneCountInString(b.Text), MaxFieldRunes+4)
		}
	}
}

func TestDetail_ClipsLongFields(t *testing.T) {
	v := Detail(42, kitsu.Pair{
		Entry: kitsu.Entry{ID: 1, Status: "current"},
		Anime: kitsu.Anime{CanonicalTitle: strings.Repeat("a&", 200)},
	})
	assert.NotContains(t, v.Text, strings.Repeat("a&amp;", 41))
	assert.Contains(t, v.Text, "…")
}
