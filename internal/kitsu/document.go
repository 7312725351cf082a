package kitsu

import (
	"bytes"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

type document struct {
	Data     jsoniter.RawMessage `json:"data"`
	Included []resource          `json:"included"`
	Links    Links               `json:"links"`
	Errors   []ErrorObject       `json:"errors"`
}

type resource struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    jsoniter.RawMessage     `json:"attributes"`
	Relationships map[string]relationship `json:"relationships"`
}

type relationship struct {
	Data *identifier `json:"data"`
}

type identifier struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type entryAttributes struct {
	Progress  int64  `json:"progress"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}

type animeAttributes struct {
	Slug           string `json:"slug"`
	CanonicalTitle string `json:"canonicalTitle"`
	Titles         struct {
		JaJP string `json:"ja_jp"`
	} `json:"titles"`
	Subtype      string `json:"subtype"`
	Status       string `json:"status"`
	EpisodeCount *int64 `json:"episodeCount"`
}

// resources decodes primary data, which is an array for collections and a
// single object otherwise.
func (d *document) resources() ([]resource, error) {
	raw := bytes.TrimSpace(d.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var rs []resource
		if err := json.Unmarshal(raw, &rs); err != nil {
			return nil, fmt.Errorf("kitsu: decode data: %w", err)
		}
		return rs, nil
	}
	var r resource
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("kitsu: decode data: %w", err)
	}
	return []resource{r}, nil
}

// pairs joins each library entry with its included anime through the
// anime relationship.
func (d *document) pairs() ([]Pair, error) {
	entries, err := d.resources()
	if err != nil {
		return nil, err
	}

	animes := make(map[string]Anime, len(d.Included))
	for _, inc := range d.Included {
		if inc.Type != "anime" {
			continue
		}
		a, err := decodeAnime(inc)
		if err != nil {
			return nil, err
		}
		animes[inc.ID] = a
	}

	pairs := make([]Pair, 0, len(entries))
	for _, r := range entries {
		e, err := decodeEntry(r)
		if err != nil {
			return nil, err
		}
		rel, ok := r.Relationships["anime"]
		if !ok || rel.Data == nil {
			return nil, fmt.Errorf("kitsu: library entry %s has no anime relationship", r.ID)
		}
		a, ok := animes[rel.Data.ID]
		if !ok {
			return nil, fmt.Errorf("kitsu: anime %s of library entry %s not included", rel.Data.ID, r.ID)
		}
		e.AnimeID = a.ID
		pairs = append(pairs, Pair{Entry: e, Anime: a})
	}
	return pairs, nil
}

func decodeEntry(r resource) (Entry, error) {
	id, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("kitsu: library entry id %q: %w", r.ID, err)
	}
	var attrs entryAttributes
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return Entry{}, fmt.Errorf("kitsu: library entry %s attributes: %w", r.ID, err)
		}
	}
	return Entry{ID: id, Progress: attrs.Progress, Status: attrs.Status, UpdatedAt: attrs.UpdatedAt}, nil
}

func decodeAnime(r resource) (Anime, error) {
	id, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return Anime{}, fmt.Errorf("kitsu: anime id %q: %w", r.ID, err)
	}
	var attrs animeAttributes
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return Anime{}, fmt.Errorf("kitsu: anime %s attributes: %w", r.ID, err)
		}
	}
	a := Anime{
		ID:             id,
		Slug:           attrs.Slug,
		CanonicalTitle: attrs.CanonicalTitle,
		JapaneseTitle:  attrs.Titles.JaJP,
		Subtype:        attrs.Subtype,
		Status:         attrs.Status,
	}
	if attrs.EpisodeCount != nil {
		a.EpisodeCount = *attrs.EpisodeCount
	}
	return a, nil
}
