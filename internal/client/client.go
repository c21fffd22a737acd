// Package client talks to the grocery tracker API.
//
// A Client is stateless: every authenticated call takes an explicit Session.
// App layers a cached set of views on top and keeps them in step with the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"grocery-tracker/internal/auth"
	"grocery-tracker/internal/expiry"
	"grocery-tracker/internal/models"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 10 * time.Second

var (
	// ErrValidation is returned for input rejected before anything is sent.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned when the session is expired or rejected by the server.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotLoggedIn is returned by authenticated calls made without a session.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrNetwork wraps transport failures and timeouts.
	ErrNetwork = errors.New("network error")
)

// APIError is a non-2xx response carrying the server's message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Session is the credential returned by Login.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session can still be presented at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && s.UserID > 0 && !now.After(s.ExpiresAt)
}

// Mutation is the server's answer to an add or delete.
type Mutation struct {
	Message string        `json:"message"`
	Item    *models.Item  `json:"item,omitempty"`
	Views   *models.Views `json:"views,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClock replaces the time source used for session expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is an HTTP client for the grocery tracker API.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	now     func() time.Time
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates an account. phone may be empty.
func (c *Client) Register(ctx context.Context, username, password, phone string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	body := map[string]string{"username": strings.TrimSpace(username), "password": password, "phone_number": phone}
	return c.do(ctx, nil, http.MethodPost, "/register", body, nil)
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      int64     `json:"user_id"`
}

// Login exchanges credentials for a Session. The expiry is read from the
// token itself when it carries one.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}
	var resp loginResponse
	body := map[string]string{"username": strings.TrimSpace(username), "password": password}
	if err := c.do(ctx, nil, http.MethodPost, "/login", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response has no token", ErrUnauthorized)
	}
	sess := &Session{Token: resp.AccessToken, UserID: resp.UserID, ExpiresAt: resp.ExpiresAt}
	if exp, err := auth.TokenExpiry(resp.AccessToken); err == nil {
		sess.ExpiresAt = exp
	}
	return sess, nil
}

// Items returns every item of the session's user with its status.
func (c *Client) Items(ctx context.Context, s *Session) ([]models.Item, error) {
	var items []models.Item
	err := c.getUserResource(ctx, s, "/get_list/", &items)
	return items, err
}

// ExpiringSoon returns the items expiring within the server's window.
func (c *Client) ExpiringSoon(ctx context.Context, s *Session) ([]models.Item, error) {
	var items []models.Item
	err := c.getUserResource(ctx, s, "/get_expiring_soon/", &items)
	return items, err
}

// Expired returns the items past their expiry date.
func (c *Client) Expired(ctx context.Context, s *Session) ([]models.Item, error) {
	var items []models.Item
	err := c.getUserResource(ctx, s, "/get_expired/", &items)
	return items, err
}

// History returns the shopping history, newest first.
func (c *Client) History(ctx context.Context, s *Session) ([]models.HistoryEntry, error) {
	var history []models.HistoryEntry
	err := c.getUserResource(ctx, s, "/get_shopping_history/", &history)
	return history, err
}

// Dashboard returns all views computed from one server-side snapshot.
func (c *Client) Dashboard(ctx context.Context, s *Session) (*models.Views, error) {
	var views models.Views
	if err := c.getUserResource(ctx, s, "/get_dashboard/", &views); err != nil {
		return nil, err
	}
	return &views, nil
}

func (c *Client) getUserResource(ctx context.Context, s *Session, prefix string, out any) error {
	if s == nil {
		return ErrNotLoggedIn
	}
	return c.do(ctx, s, http.MethodGet, prefix+strconv.FormatInt(s.UserID, 10), nil, out)
}

// AddItem adds an item. shelfLife is the raw user input; it is validated
// locally and never sent when invalid.
func (c *Client) AddItem(ctx context.Context, s *Session, name, shelfLife string) (*Mutation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrValidation)
	}
	days, err := expiry.ParseShelfLife(shelfLife)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if s == nil {
		return nil, ErrNotLoggedIn
	}

	body := map[string]any{"name": name, "shelf_life": days, "user_id": s.UserID}
	var m Mutation
	if err := c.do(ctx, s, http.MethodPost, "/add_item", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteItem removes one of the session user's items.
func (c *Client) DeleteItem(ctx context.Context, s *Session, itemID int64) (*Mutation, error) {
	if itemID <= 0 {
		return nil, fmt.Errorf("%w: invalid item id %d", ErrValidation, itemID)
	}
	var m Mutation
	if err := c.do(ctx, s, http.MethodDelete, "/delete_item/"+strconv.FormatInt(itemID, 10), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Recipes asks the server for recipes using the given ingredients. An empty
// list lets the server use the user's stored items. limit <= 0 uses the server default.
func (c *Client) Recipes(ctx context.Context, s *Session, ingredients []string, limit int) ([]models.Recipe, error) {
	q := url.Values{}
	if len(ingredients) > 0 {
		q.Set("ingredients", strings.Join(ingredients, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/get_recipes"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var recipes []models.Recipe
	err := c.do(ctx, s, http.MethodGet, path, nil, &recipes)
	return recipes, err
}

// do sends one request. A nil session means the call is unauthenticated;
// otherwise the session must be valid at the client's clock.
func (c *Client) do(ctx context.Context, s *Session, method, path string, body, out any) error {
	authenticated := !isPublic(path)
	if authenticated {
		if s == nil {
			return ErrNotLoggedIn
		}
		if !s.Valid(c.now()) {
			return fmt.Errorf("%w: session expired", ErrUnauthorized)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readMessage(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized && authenticated {
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrNetwork, path, err)
	}
	return nil
}

func isPublic(path string) bool {
	return path == "/register" || path == "/login"
}

func readMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 1<<16))
	if err != nil {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
