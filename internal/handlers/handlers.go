package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grocery-tracker/internal/auth"
	"grocery-tracker/internal/expiry"
	"grocery-tracker/internal/models"
	"grocery-tracker/internal/recipes"
	"grocery-tracker/internal/storage"

	"github.com/go-chi/chi/v5"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// MaxRecipeLimit caps the limit query parameter of /get_recipes.
	MaxRecipeLimit = 10
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db         storage.Store
	issuer     *auth.Issuer
	classifier *expiry.Classifier
	recipes    recipes.Provider
	now        func() time.Time
}

// NewHandlers creates a new Handlers instance. recipeProvider may be nil when
// no recipe service is configured.
func NewHandlers(db storage.Store, issuer *auth.Issuer, classifier *expiry.Classifier, recipeProvider recipes.Provider) *Handlers {
	return &Handlers{
		db:         db,
		issuer:     issuer,
		classifier: classifier,
		recipes:    recipeProvider,
		now:        time.Now,
	}
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// AuthMiddleware requires a valid bearer token and puts its user in the context.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "Missing authorization header")
			return
		}

		userID, err := h.issuer.Verify(strings.TrimSpace(token))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "Token has expired"
			}
			writeError(w, http.StatusUnauthorized, msg)
			return
		}

		user, err := h.db.GetUserByID(userID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				slog.Error("GetUserByID failed", "user_id", userID, "error", err)
			}
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownerFromPath returns the authenticated user when it matches the {user_id}
// path parameter, writing an error response otherwise.
func ownerFromPath(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user := GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return nil, false
	}
	if id != user.ID {
		writeError(w, http.StatusForbidden, "Cannot access another user's items")
		return nil, false
	}
	return user, true
}

// --- Account Handlers ---

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number"`
}

// Register creates a new user account.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("HashPassword failed", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred. Please try again.")
		return
	}

	user, err := h.db.CreateUser(username, hash, strings.TrimSpace(req.PhoneNumber))
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(w, http.StatusBadRequest, "Username already exists")
			return
		}
		slog.Error("CreateUser failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred. Please try again.")
		return
	}

	slog.Info("User registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User created successfully"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      int64     `json:"user_id"`
}

// Login exchanges credentials for a bearer token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.db.GetUserByUsername(strings.TrimSpace(req.Username))
	if err != nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Error("GetUserByUsername failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, expiresAt, err := h.issuer.Issue(user.ID)
	if err != nil {
		slog.Error("Failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred. Please try again.")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{AccessToken: token, ExpiresAt: expiresAt, UserID: user.ID})
}

// --- Item Handlers ---

// ListItems returns all of the user's items with their current status.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	user, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	items, err := h.db.ListItems(r.Context(), user.ID)
	if err != nil {
		slog.Error("ListItems failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, h.classifier.Annotate(items, h.now()))
}

// ExpiringSoon returns items expiring within the window, earliest first.
func (h *Handlers) ExpiringSoon(w http.ResponseWriter, r *http.Request) {
	h.classified(w, r, h.classifier.ExpiringSoon)
}

// Expired returns items that are past their expiry date, earliest first.
func (h *Handlers) Expired(w http.ResponseWriter, r *http.Request) {
	h.classified(w, r, h.classifier.Expired)
}

func (h *Handlers) classified(w http.ResponseWriter, r *http.Request, pick func([]models.Item, time.Time) []models.Item) {
	user, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	items, err := h.db.ListItems(r.Context(), user.ID)
	if err != nil {
		slog.Error("ListItems failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, pick(items, h.now()))
}

// ShoppingHistory returns the user's purchases, newest first.
func (h *Handlers) ShoppingHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	history, err := h.db.ListHistory(r.Context(), user.ID)
	if err != nil {
		slog.Error("ListHistory failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, h.classifier.Localize(history))
}

// Dashboard returns every view computed from one snapshot.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := ownerFromPath(w, r)
	if !ok {
		return
	}
	views, err := h.views(r.Context(), user.ID)
	if err != nil {
		slog.Error("Snapshot failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) views(ctx context.Context, userID int64) (*models.Views, error) {
	snap, err := h.db.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := h.classifier.Views(snap.Items, snap.History, h.now())
	return &views, nil
}

type addItemRequest struct {
	Name      string      `json:"name"`
	ShelfLife json.Number `json:"shelf_life"`
	UserID    *int64      `json:"user_id"`
}

// MutationResponse is returned by item mutations. Views holds every dashboard
// projection after the mutation; it is omitted only if re-reading them failed.
type MutationResponse struct {
	Message string        `json:"message"`
	Item    *models.Item  `json:"item,omitempty"`
	Views   *models.Views `json:"views,omitempty"`
}

// AddItem validates and stores a new item, recording it in the shopping history.
func (h *Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID != nil && *req.UserID != user.ID {
		writeError(w, http.StatusForbidden, "Cannot add items for another user")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Item name is required")
		return
	}
	shelfLife, err := expiry.ParseShelfLife(req.ShelfLife.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Shelf life must be a whole number of days between 1 and 3650")
		return
	}

	now := h.now()
	expiresAt, err := h.classifier.ExpiryDate(now, shelfLife)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.db.CreateItem(r.Context(), &models.Item{
		Name:        name,
		UserID:      user.ID,
		PurchasedAt: now,
		ShelfLife:   shelfLife,
		ExpiryDate:  expiresAt,
	})
	if err != nil {
		slog.Error("CreateItem failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	annotated := h.classifier.Annotate([]models.Item{*item}, now)[0]

	resp := MutationResponse{Message: "Item added successfully", Item: &annotated}
	if views, err := h.views(r.Context(), user.ID); err != nil {
		slog.Error("Snapshot after add failed", "user_id", user.ID, "error", err)
	} else {
		resp.Views = views
	}
	writeJSON(w, http.StatusCreated, resp)
}

// DeleteItem removes one of the user's items.
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item id")
		return
	}

	if err := h.db.DeleteItem(r.Context(), user.ID, itemID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Item not found")
			return
		}
		slog.Error("DeleteItem failed", "item_id", itemID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := MutationResponse{Message: "Item deleted successfully"}
	if views, err := h.views(r.Context(), user.ID); err != nil {
		slog.Error("Snapshot after delete failed", "user_id", user.ID, "error", err)
	} else {
		resp.Views = views
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Recipe Handlers ---

// Recipes suggests recipes for the ingredients query parameter, falling back
// to the names of the user's items when it is empty.
func (h *Handlers) Recipes(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if h.recipes == nil {
		writeError(w, http.StatusServiceUnavailable, "Recipe service is not configured")
		return
	}

	limit := recipes.DefaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxRecipeLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 10")
			return
		}
		limit = n
	}

	ingredients := recipes.ParseIngredients(r.URL.Query().Get("ingredients"))
	if len(ingredients) == 0 {
		items, err := h.db.ListItems(r.Context(), user.ID)
		if err != nil {
			slog.Error("ListItems failed", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		names := make([]string, 0, len(items))
		for _, it := range items {
			names = append(names, it.Name)
		}
		ingredients = recipes.NormalizeIngredients(names)
	}
	if len(ingredients) == 0 {
		writeJSON(w, http.StatusOK, []models.Recipe{})
		return
	}

	found, err := h.recipes.FindByIngredients(r.Context(), ingredients, limit)
	if err != nil {
		slog.Error("Recipe lookup failed", "ingredients", ingredients, "error", err)
		writeError(w, http.StatusBadGateway, "Recipe service unavailable")
		return
	}
	if found == nil {
		found = []models.Recipe{}
	}
	writeJSON(w, http.StatusOK, found)
}

// Health reports that the server is up.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": h.db.DatabaseType()})
}

// --- Helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
