// Package registry maps Telegram accounts to Kitsu accounts.
//
// Rows live in SQLite so lookups survive restarts. The table is filled
// either from a remote endpoint (Refresh) or from a YAML file (Import).
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/PoiScript/sagiri/internal/db"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoRemote is returned by Refresh when no remote endpoint is configured.
var ErrNoRemote = errors.New("registry: no remote endpoint configured")

// RemoteError is an error reported by the remote endpoint itself.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("registry: remote error (status %d): %s", e.Status, e.Message)
}

// Record is one user as exchanged with the remote endpoint and YAML files.
type Record struct {
	TelegramID int64  `json:"telegram_id" yaml:"telegram_id"`
	KitsuID    int64  `json:"kitsu_id" yaml:"kitsu_id"`
	KitsuToken string `json:"kitsu_token" yaml:"kitsu_token"`
}

// Registry is the Telegram to Kitsu user table.
type Registry struct {
	db         *sql.DB
	remoteURL  string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithRemote sets the endpoint and the Authorization header used by Refresh.
func WithRemote(url, token string) Option {
	return func(r *Registry) {
		r.remoteURL = url
		r.token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a registry backed by database, whose schema must exist.
func New(database *sql.DB, opts ...Option) *Registry {
	r := &Registry{
		db:         database,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HasRemote reports whether Refresh can be used.
func (r *Registry) HasRemote() bool { return r.remoteURL != "" }

// Lookup returns the user registered for a Telegram id. ok is false when
// the user is not registered.
func (r *Registry) Lookup(ctx context.Context, telegramID int64) (user db.User, ok bool, err error) {
	u, err := db.GetUser(ctx, r.db, telegramID)
	if errors.Is(err, db.ErrUserNotFound) {
		return db.User{}, false, nil
	}
	if err != nil {
		return db.User{}, false, err
	}
	return u, true, nil
}

// List returns every registered user.
func (r *Registry) List(ctx context.Context) ([]db.User, error) {
	return db.ListUsers(ctx, r.db)
}

type remoteResponse struct {
	Data  []Record `json:"data"`
	Error string   `json:"error"`
}

// Refresh replaces the whole table with the users served by the remote
// endpoint and returns how many there are. The table is left untouched
// if the fetch or validation fails.
func (r *Registry) Refresh(ctx context.Context) (int, error) {
	if !r.HasRemote() {
		return 0, ErrNoRemote
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.remoteURL, nil)
	if err != nil {
		return 0, fmt.Errorf("registry: build request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", r.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("registry: fetch users: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, fmt.Errorf("registry: read users: %w", err)
	}

	var body remoteResponse
	decodeErr := json.Unmarshal(raw, &body)
	switch {
	case decodeErr == nil && body.Error != "":
		return 0, &RemoteError{Status: resp.StatusCode, Message: body.Error}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, &RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	case decodeErr != nil:
		return 0, fmt.Errorf("registry: decode users: %w", decodeErr)
	}

	if err := Validate(body.Data); err != nil {
		return 0, err
	}
	if err := db.ReplaceUsers(ctx, r.db, toUsers(body.Data)); err != nil {
		return 0, fmt.Errorf("registry: store users: %w", err)
	}
	r.logger.Info("registry refreshed", zap.Int("users", len(body.Data)))
	return len(body.Data), nil
}

type importFile struct {
	Users []Record `yaml:"users"`
}

// Import reads users from YAML and upserts them. With replace set the
// file becomes the whole table.
func (r *Registry) Import(ctx context.Context, in io.Reader, replace bool) (int, error) {
	var f importFile
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("registry: parse yaml: %w", err)
	}
	if err := Validate(f.Users); err != nil {
		return 0, err
	}

	users := toUsers(f.Users)
	store := db.UpsertUsers
	if replace {
		store = db.ReplaceUsers
	}
	if err := store(ctx, r.db, users); err != nil {
		return 0, fmt.Errorf("registry: store users: %w", err)
	}
	r.logger.Info("registry imported", zap.Int("users", len(users)), zap.Bool("replace", replace))
	return len(users), nil
}

// Validate checks every record and reports all problems at once.
func Validate(records []Record) error {
	var result *multierror.Error
	seen := make(map[int64]int, len(records))
	for i, rec := range records {
		if rec.TelegramID <= 0 {
			result = multierror.Append(result, fmt.Errorf("user %d: telegram_id must be positive", i))
		}
		if rec.KitsuID <= 0 {
			result = multierror.Append(result, fmt.Errorf("user %d: kitsu_id must be positive", i))
		}
		if prev, dup := seen[rec.TelegramID]; dup && rec.TelegramID > 0 {
			result = multierror.Append(result, fmt.Errorf("user %d: telegram_id %d already used by user %d", i, rec.TelegramID, prev))
		}
		seen[rec.TelegramID] = i
	}
	return result.ErrorOrNil()
}

func toUsers(records []Record) []db.User {
	users := make([]db.User, len(records))
	for i, rec := range records {
		users[i] = db.User{TelegramID: rec.TelegramID, KitsuID: rec.KitsuID, KitsuToken: rec.KitsuToken}
	}
	return users
}
