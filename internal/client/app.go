package client

import (
	"context"
	"errors"
	"sync"

	"grocery-tracker/internal/models"
	"grocery-tracker/internal/recipes"
)

// App holds a session and the last views the server confirmed.
// Failed calls never modify the cached views; an unauthorized
// response ends the session.
type App struct {
	client *Client

	mu      sync.Mutex
	session *Session
	views   models.Views
	synced  bool
}

// NewApp creates an App with no session.
func NewApp(c *Client) *App {
	return &App{client: c}
}

// Client returns the underlying API client.
func (a *App) Client() *Client { return a.client }

// Login starts a session and loads the views.
func (a *App) Login(ctx context.Context, username, password string) error {
	sess, err := a.client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	a.SetSession(sess)
	return a.Refresh(ctx)
}

// SetSession replaces the current session and drops cached views.
func (a *App) SetSession(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = s
	a.views = models.Views{}
	a.synced = false
}

// Logout forgets the session and cached views.
func (a *App) Logout() {
	a.SetSession(nil)
}

// Session returns a copy of the current session, or nil when logged out.
func (a *App) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

// LoggedIn reports whether a session is present and still valid.
func (a *App) LoggedIn() bool {
	return a.Session().Valid(a.client.now())
}

// Views returns the cached views and whether they were ever loaded.
func (a *App) Views() (models.Views, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.views, a.synced
}

// Refresh reloads every view. The cache is replaced only if the call succeeds.
func (a *App) Refresh(ctx context.Context) error {
	sess, err := a.current()
	if err != nil {
		return err
	}
	views, err := a.client.Dashboard(ctx, sess)
	if err != nil {
		return a.fail(err)
	}
	a.apply(views)
	return nil
}

// Add creates an item and reconciles the cached views with the server.
func (a *App) Add(ctx context.Context, name, shelfLife string) (*models.Item, error) {
	sess, err := a.current()
	if err != nil {
		return nil, err
	}
	m, err := a.client.AddItem(ctx, sess, name, shelfLife)
	if err != nil {
		return nil, a.failMutation(ctx, err)
	}
	if err := a.reconcile(ctx, m); err != nil {
		return m.Item, err
	}
	return m.Item, nil
}

// Delete removes an item and reconciles the cached views with the server.
func (a *App) Delete(ctx context.Context, itemID int64) error {
	sess, err := a.current()
	if err != nil {
		return err
	}
	m, err := a.client.DeleteItem(ctx, sess, itemID)
	if err != nil {
		return a.failMutation(ctx, err)
	}
	return a.reconcile(ctx, m)
}

// SuggestRecipes looks up recipes for the cached items and keeps the top ones.
func (a *App) SuggestRecipes(ctx context.Context) ([]models.Recipe, error) {
	sess, err := a.current()
	if err != nil {
		return nil, err
	}
	views, _ := a.Views()
	names := make([]string, 0, len(views.Items))
	for _, it := range views.Items {
		names = append(names, it.Name)
	}
	found, err := a.client.Recipes(ctx, sess, recipes.NormalizeIngredients(names), recipes.DefaultLimit)
	if err != nil {
		return nil, a.fail(err)
	}
	if len(found) > recipes.DefaultLimit {
		found = found[:recipes.DefaultLimit]
	}
	return found, nil
}

// reconcile applies the views returned with a mutation, falling back to a
// full refresh when the server could not include them.
func (a *App) reconcile(ctx context.Context, m *Mutation) error {
	if m.Views != nil {
		a.apply(m.Views)
		return nil
	}
	return a.Refresh(ctx)
}

func (a *App) current() (*Session, error) {
	sess := a.Session()
	if sess == nil {
		return nil, ErrNotLoggedIn
	}
	if !sess.Valid(a.client.now()) {
		a.Logout()
		return nil, ErrUnauthorized
	}
	return sess, nil
}

func (a *App) apply(v *models.Views) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.views = *v
	a.synced = true
}

// failMutation handles a mutation error. After a network failure the server
// may still have applied the change, so the views are reloaded when possible.
// The original error is returned either way.
func (a *App) failMutation(ctx context.Context, err error) error {
	err = a.fail(err)
	if errors.Is(err, ErrNetwork) {
		_ = a.Refresh(context.WithoutCancel(ctx))
	}
	return err
}

func (a *App) fail(err error) error {
	if errors.Is(err, ErrUnauthorized) {
		a.Logout()
	}
	return err
}
