// Package kitsu is a small client for the Kitsu JSON:API: it reads a user's
// library and updates library entries.
package kitsu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultBaseURL is the public Kitsu API.
	DefaultBaseURL = "https://kitsu.io/api/edge"
	// DefaultPageLimit is the number of entries per library page.
	DefaultPageLimit = 10

	mediaType    = "application/vnd.api+json"
	entryFields  = "progress,status,updatedAt,anime"
	animeFields  = "canonicalTitle,titles,episodeCount,slug,subtype,status"
	listedStatus = "current,planned"
	maxBodyBytes = 8 << 20
)

// ErrEntryNotFound is returned by FetchEntry when the user has no library
// entry for the anime.
var ErrEntryNotFound = errors.New("kitsu: library entry not found")

// Client talks to the Kitsu API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageLimit  int
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(k *Client) {
		if c != nil {
			k.httpClient = c
		}
	}
}

// WithPageLimit sets the library page size.
func WithPageLimit(n int) Option {
	return func(k *Client) {
		if n > 0 {
			k.pageLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(k *Client) {
		if l != nil {
			k.logger = l
		}
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pageLimit:  DefaultPageLimit,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchLibrary returns the page of userID's current and planned entries
// starting at offset.
func (c *Client) FetchLibrary(ctx context.Context, userID, offset int64) (Page, error) {
	q := c.libraryQuery(userID)
	q.Set("filter[status]", listedStatus)
	q.Set("page[limit]", strconv.Itoa(c.pageLimit))
	q.Set("page[offset]", strconv.FormatInt(offset, 10))

	var doc document
	if err := c.do(ctx, http.MethodGet, "library-entries", q, "", nil, &doc); err != nil {
		return Page{}, err
	}
	pairs, err := doc.pairs()
	if err != nil {
		return Page{}, err
	}
	return Page{Pairs: pairs, Links: doc.Links}, nil
}

// FetchEntry returns userID's library entry for animeID.
func (c *Client) FetchEntry(ctx context.Context, userID, animeID int64) (Pair, error) {
	q := c.libraryQuery(userID)
	q.Set("filter[anime_id]", strconv.FormatInt(animeID, 10))
	q.Set("page[limit]", "1")

	var doc document
	if err := c.do(ctx, http.MethodGet, "library-entries", q, "", nil, &doc); err != nil {
		return Pair{}, err
	}
	pairs, err := doc.pairs()
	if err != nil {
		return Pair{}, err
	}
	if len(pairs) == 0 {
		return Pair{}, fmt.Errorf("%w: user %d anime %d", ErrEntryNotFound, userID, animeID)
	}
	return pairs[0], nil
}

// SetProgress sets the watched episode count of an entry. The value is
// absolute, so repeating the call is harmless.
func (c *Client) SetProgress(ctx context.Context, token string, entryID, episodes int64) (Pair, error) {
	return c.updateEntry(ctx, token, entryID, entryPatch{Progress: &episodes})
}

// SetStatus sets the status of an entry.
func (c *Client) SetStatus(ctx context.Context, token string, entryID int64, status string) (Pair, error) {
	return c.updateEntry(ctx, token, entryID, entryPatch{Status: status})
}

type entryPatch struct {
	Progress *int64 `json:"progress,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (c *Client) updateEntry(ctx context.Context, token string, entryID int64, patch entryPatch) (Pair, error) {
	body := map[string]any{
		"data": map[string]any{
			"id":         strconv.FormatInt(entryID, 10),
			"type":       "libraryEntries",
			"attributes": patch,
		},
	}
	q := url.Values{}
	q.Set("include", "anime")
	q.Set("fields[libraryEntries]", entryFields)
	q.Set("fields[anime]", animeFields)

	var doc document
	path := "library-entries/" + strconv.FormatInt(entryID, 10)
	if err := c.do(ctx, http.MethodPatch, path, q, token, body, &doc); err != nil {
		return Pair{}, err
	}
	pairs, err := doc.pairs()
	if err != nil {
		return Pair{}, err
	}
	if len(pairs) == 0 {
		return Pair{}, fmt.Errorf("kitsu: update entry %d: empty response", entryID)
	}
	return pairs[0], nil
}

func (c *Client) libraryQuery(userID int64) url.Values {
	q := url.Values{}
	q.Set("include", "anime")
	q.Set("filter[user_id]", strconv.FormatInt(userID, 10))
	q.Set("fields[libraryEntries]", entryFields)
	q.Set("fields[anime]", animeFields)
	return q
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, token string, payload any, out *document) error {
	endpoint := c.baseURL + "/" + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("kitsu: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("kitsu: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", mediaType)
	if payload != nil {
		req.Header.Set("Content-Type", mediaType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kitsu: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("kitsu: read %s %s: %w", method, path, err)
	}
	c.logger.Debug("kitsu request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	decodeErr := json.Unmarshal(raw, out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Errors = out.Errors
		}
		if len(apiErr.Errors) == 0 {
			apiErr.Errors = []ErrorObject{{Title: http.StatusText(resp.StatusCode), Detail: snippet(raw)}}
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("kitsu: decode %s %s: %w", method, path, decodeErr)
	}
	if len(out.Errors) > 0 {
		return &APIError{StatusCode: resp.StatusCode, Errors: out.Errors}
	}
	return nil
}

func snippet(raw []byte) string {
	const limit = 200
	s := string(bytes.TrimSpace(raw))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
