// Package recipes looks up recipe suggestions for a set of ingredients.
package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"grocery-tracker/internal/models"
)

// DefaultLimit is how many recipes are requested when the caller does not say.
const DefaultLimit = 3

// ErrNoIngredients is returned when the ingredient list is empty after normalisation.
var ErrNoIngredients = errors.New("no ingredients given")

// Provider finds recipes that use the given ingredients.
type Provider interface {
	FindByIngredients(ctx context.Context, ingredients []string, limit int) ([]models.Recipe, error)
}

// NormalizeIngredients lower-cases, trims, deduplicates and sorts ingredient names.
func NormalizeIngredients(ingredients []string) []string {
	seen := make(map[string]bool, len(ingredients))
	out := make([]string, 0, len(ingredients))
	for _, in := range ingredients {
		in = strings.ToLower(strings.TrimSpace(in))
		if in == "" || seen[in] {
			continue
		}
		seen[in] = true
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

// ParseIngredients splits a comma separated query value.
func ParseIngredients(raw string) []string {
	return NormalizeIngredients(strings.Split(raw, ","))
}

// Spoonacular calls the findByIngredients endpoint of the Spoonacular API.
type Spoonacular struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSpoonacular creates a provider. A nil client gets a 10 second timeout.
func NewSpoonacular(baseURL, apiKey string, client *http.Client) *Spoonacular {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Spoonacular{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

// FindByIngredients implements Provider.
func (s *Spoonacular) FindByIngredients(ctx context.Context, ingredients []string, limit int) ([]models.Recipe, error) {
	ingredients = NormalizeIngredients(ingredients)
	if len(ingredients) == 0 {
		return nil, ErrNoIngredients
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := url.Values{}
	q.Set("ingredients", strings.Join(ingredients, ","))
	q.Set("number", strconv.Itoa(limit))
	q.Set("apiKey", s.apiKey)
	endpoint := s.baseURL + "/recipes/findByIngredients?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spoonacular request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("spoonacular returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var recipes []models.Recipe
	if err := json.NewDecoder(resp.Body).Decode(&recipes); err != nil {
		return nil, fmt.Errorf("decode spoonacular response: %w", err)
	}
	if len(recipes) > limit {
		recipes = recipes[:limit]
	}
	return recipes, nil
}
