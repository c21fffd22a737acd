package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"grocery-tracker/internal/auth"
	"grocery-tracker/internal/expiry"
	"grocery-tracker/internal/models"
	"grocery-tracker/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type MockRecipes struct {
	mock.Mock
}

func (m *MockRecipes) FindByIngredients(ctx context.Context, ingredients []string, limit int) ([]models.Recipe, error) {
	args := m.Called(ingredients, limit)
	recipes, _ := args.Get(0).([]models.Recipe)
	return recipes, args.Error(1)
}

// HandlersTestSuite exercises the API through its router.
type HandlersTestSuite struct {
	suite.Suite
	db      *storage.DB
	issuer  *auth.Issuer
	recipes *MockRecipes
	h       *Handlers
	router  http.Handler
	now     time.Time
	userID  int64
	token   string
}

func (suite *HandlersTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err)
	suite.db = db

	suite.now = time.Date(2024, time.August, 1, 10, 0, 0, 0, time.UTC)
	suite.issuer, err = auth.NewIssuer(testKey, 15*time.Minute)
	require.NoError(suite.T(), err)
	suite.issuer.WithClock(func() time.Time { return suite.now })

	suite.recipes = new(MockRecipes)
	suite.h = NewHandlers(db, suite.issuer, expiry.New(time.UTC, 3), suite.recipes)
	suite.h.now = func() time.Time { return suite.now }
	suite.router = suite.h.Routes()

	suite.userID, suite.token = suite.registerAndLogin("alice", "secret")
}

func (suite *HandlersTestSuite) TearDownTest() {
	suite.db.Close()
}

func (suite *HandlersTestSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(suite.T(), json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *HandlersTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

func (suite *HandlersTestSuite) message(w *httptest.ResponseRecorder) string {
	var body map[string]string
	suite.decode(w, &body)
	return body["message"]
}

func (suite *HandlersTestSuite) registerAndLogin(username, password string) (int64, string) {
	w := suite.do(http.MethodPost, "/register", "", map[string]string{
		"username": username, "password": password, "phone_number": "+15550199",
	})
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())

	w = suite.do(http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	suite.decode(w, &resp)
	require.NotEmpty(suite.T(), resp.AccessToken)
	return resp.UserID, resp.AccessToken
}

func (suite *HandlersTestSuite) userPath(prefix string) string {
	return prefix + strconv.FormatInt(suite.userID, 10)
}

func (suite *HandlersTestSuite) addItem(name string, shelfLife any) *httptest.ResponseRecorder {
	return suite.do(http.MethodPost, "/add_item", suite.token, map[string]any{
		"name": name, "shelf_life": shelfLife, "user_id": suite.userID,
	})
}

func (suite *HandlersTestSuite) TestRegisterValidation() {
	w := suite.do(http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
	assert.Equal(suite.T(), "Username already exists", suite.message(w))

	w = suite.do(http.MethodPost, "/register", "", map[string]string{"username": "  ", "password": "x"})
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *HandlersTestSuite) TestLogin() {
	w := suite.do(http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
	assert.Equal(suite.T(), "Invalid username or password", suite.message(w))

	w = suite.do(http.MethodPost, "/login", "", map[string]string{"username": "nobody", "password": "secret"})
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)

	w = suite.do(http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "secret"})
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var resp LoginResponse
	suite.decode(w, &resp)
	assert.Equal(suite.T(), suite.userID, resp.UserID)
	assert.True(suite.T(), resp.ExpiresAt.Equal(suite.now.Add(15*time.Minute)))
}

func (suite *HandlersTestSuite) TestAuthRequired() {
	w := suite.do(http.MethodGet, suite.userPath("/get_list/"), "", nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)

	w = suite.do(http.MethodGet, suite.userPath("/get_list/"), "garbage", nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func (suite *HandlersTestSuite) TestExpiredTokenRejected() {
	suite.now = suite.now.Add(16 * time.Minute)
	w := suite.do(http.MethodGet, suite.userPath("/get_list/"), suite.token, nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
	assert.Equal(suite.T(), "Token has expired", suite.message(w))
}

func (suite *HandlersTestSuite) TestOtherUsersListForbidden() {
	otherID, _ := suite.registerAndLogin("bob", "pw")
	w := suite.do(http.MethodGet, "/get_list/"+strconv.FormatInt(otherID, 10), suite.token, nil)
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w = suite.do(http.MethodPost, "/add_item", suite.token, map[string]any{"name": "Milk", "shelf_life": 3, "user_id": otherID})
	assert.Equal(suite.T(), http.StatusForbidden, w.Code)

	w = suite.do(http.MethodGet, "/get_list/abc", suite.token, nil)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)
}

func (suite *HandlersTestSuite) TestAddItemReturnsViews() {
	w := suite.addItem("Milk", 5)
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())

	var resp MutationResponse
	suite.decode(w, &resp)
	assert.Equal(suite.T(), "Item added successfully", resp.Message)
	require.NotNil(suite.T(), resp.Item)
	assert.True(suite.T(), resp.Item.ExpiryDate.Equal(suite.now.AddDate(0, 0, 5)))
	assert.Equal(suite.T(), string(expiry.Fresh), resp.Item.Status)

	require.NotNil(suite.T(), resp.Views)
	assert.Len(suite.T(), resp.Views.Items, 1)
	assert.Empty(suite.T(), resp.Views.ExpiringSoon)
	assert.Len(suite.T(), resp.Views.History, 1)
}

func (suite *HandlersTestSuite) TestDatesReportedInClassifierLocation() {
	suite.h.classifier = expiry.New(time.FixedZone("JST", 9*60*60), 2)

	w := suite.addItem("Milk", 1)
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
	var resp MutationResponse
	suite.decode(w, &resp)
	_, offset := resp.Item.ExpiryDate.Zone()
	assert.Equal(suite.T(), 9*60*60, offset)
	assert.Equal(suite.T(), "2024-08-02", resp.Item.ExpiryDate.Format(time.DateOnly))

	w = suite.do(http.MethodGet, suite.userPath("/get_shopping_history/"), suite.token, nil)
	assert.Contains(suite.T(), w.Body.String(), "+09:00")
	w = suite.do(http.MethodGet, suite.userPath("/get_list/"), suite.token, nil)
	assert.Contains(suite.T(), w.Body.String(), "+09:00")
}

func (suite *HandlersTestSuite) TestAddItemWithoutUserID() {
	w := suite.do(http.MethodPost, "/add_item", suite.token, map[string]any{"name": "Eggs", "shelf_life": "2"})
	require.Equal(suite.T(), http.StatusCreated, w.Code, w.Body.String())
}

func (suite *HandlersTestSuite) TestAddItemValidation() {
	tests := []struct {
		name      string
		itemName  string
		shelfLife any
	}{
		{"empty name", "  ", 3},
		{"zero shelf life", "Milk", 0},
		{"negative shelf life", "Milk", -2},
		{"fractional shelf life", "Milk", 2.5},
		{"missing shelf life", "Milk", nil},
		{"non-numeric shelf life", "Milk", "soon"},
		{"huge shelf life", "Milk", 100000},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			w := suite.addItem(tt.itemName, tt.shelfLife)
			assert.Equal(suite.T(), http.StatusBadRequest, w.Code, w.Body.String())
			assert.NotEmpty(suite.T(), suite.message(w))
		})
	}

	w := suite.do(http.MethodGet, suite.userPath("/get_list/"), suite.token, nil)
	var items []models.Item
	suite.decode(w, &items)
	assert.Empty(suite.T(), items, "rejected items must not be stored")
}

func (suite *HandlersTestSuite) TestExpiringSoonSortedAndClassified() {
	require.Equal(suite.T(), http.StatusCreated, suite.addItem("Cheese", 30).Code)
	require.Equal(suite.T(), http.StatusCreated, suite.addItem("Milk", 3).Code)
	require.Equal(suite.T(), http.StatusCreated, suite.addItem("Bread", 1).Code)

	w := suite.do(http.MethodGet, suite.userPath("/get_expiring_soon/"), suite.token, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var soon []models.Item
	suite.decode(w, &soon)
	require.Len(suite.T(), soon, 2)
	assert.Equal(suite.T(), "Bread", soon[0].Name)
	assert.Equal(suite.T(), "Milk", soon[1].Name)

	// Two days later Bread has expired and drops out of the expiring-soon view.
	suite.now = suite.now.AddDate(0, 0, 2)
	w = suite.do(http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "secret"})
	var login LoginResponse
	suite.decode(w, &login)

	w = suite.do(http.MethodGet, suite.userPath("/get_expiring_soon/"), login.AccessToken, nil)
	suite.decode(w, &soon)
	require.Len(suite.T(), soon, 1)
	assert.Equal(suite.T(), "Milk", soon[0].Name)

	w = suite.do(http.MethodGet, suite.userPath("/get_expired/"), login.AccessToken, nil)
	var expired []models.Item
	suite.decode(w, &expired)
	require.Len(suite.T(), expired, 1)
	assert.Equal(suite.T(), "Bread", expired[0].Name)
	assert.Equal(suite.T(), string(expiry.Expired), expired[0].Status)
}

func (suite *HandlersTestSuite) TestDeleteItemRemovesFromAllViews() {
	w := suite.addItem("Milk", 1)
	var added MutationResponse
	suite.decode(w, &added)
	require.Len(suite.T(), added.Views.ExpiringSoon, 1)

	w = suite.do(http.MethodDelete, "/delete_item/"+strconv.FormatInt(added.Item.ID, 10), suite.token, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	var deleted MutationResponse
	suite.decode(w, &deleted)
	require.NotNil(suite.T(), deleted.Views)
	assert.Empty(suite.T(), deleted.Views.Items)
	assert.Empty(suite.T(), deleted.Views.ExpiringSoon)
	assert.Len(suite.T(), deleted.Views.History, 1)

	w = suite.do(http.MethodGet, suite.userPath("/get_expiring_soon/"), suite.token, nil)
	var soon []models.Item
	suite.decode(w, &soon)
	assert.Empty(suite.T(), soon)

	w = suite.do(http.MethodDelete, "/delete_item/"+strconv.FormatInt(added.Item.ID, 10), suite.token, nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
	assert.Equal(suite.T(), "Item not found", suite.message(w))
}

func (suite *HandlersTestSuite) TestDeleteOtherUsersItem() {
	w := suite.addItem("Milk", 4)
	var added MutationResponse
	suite.decode(w, &added)

	_, bobToken := suite.registerAndLogin("bob", "pw")
	w = suite.do(http.MethodDelete, "/delete_item/"+strconv.FormatInt(added.Item.ID, 10), bobToken, nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestShoppingHistoryAndDashboard() {
	suite.addItem("Apples", 7)
	suite.now = suite.now.Add(time.Minute)
	suite.addItem("Pears", 2)

	w := suite.do(http.MethodGet, suite.userPath("/get_shopping_history/"), suite.token, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var history []models.HistoryEntry
	suite.decode(w, &history)
	require.Len(suite.T(), history, 2)
	assert.Equal(suite.T(), "Pears", history[0].Name)

	w = suite.do(http.MethodGet, suite.userPath("/get_dashboard/"), suite.token, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var views models.Views
	suite.decode(w, &views)
	assert.Len(suite.T(), views.Items, 2)
	require.Len(suite.T(), views.ExpiringSoon, 1)
	assert.Equal(suite.T(), "Pears", views.ExpiringSoon[0].Name)
	assert.NotNil(suite.T(), views.Expired)
}

func (suite *HandlersTestSuite) TestRecipes() {
	suite.recipes.On("FindByIngredients", []string{"eggs", "milk"}, 3).
		Return([]models.Recipe{{ID: 1, Title: "Omelette"}}, nil).Once()

	w := suite.do(http.MethodGet, "/get_recipes?ingredients=Milk,eggs", suite.token, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	var recipes []models.Recipe
	suite.decode(w, &recipes)
	require.Len(suite.T(), recipes, 1)
	assert.Equal(suite.T(), "Omelette", recipes[0].Title)
	suite.recipes.AssertExpectations(suite.T())
}

func (suite *HandlersTestSuite) TestRecipesFromStoredItems() {
	suite.addItem("Rice", 100)
	suite.addItem("Beans", 100)
	suite.recipes.On("FindByIngredients", []string{"beans", "rice"}, 5).
		Return([]models.Recipe{{ID: 2, Title: "Rice and beans"}}, nil).Once()

	w := suite.do(http.MethodGet, "/get_recipes?limit=5", suite.token, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	suite.recipes.AssertExpectations(suite.T())
}

func (suite *HandlersTestSuite) TestRecipesErrors() {
	w := suite.do(http.MethodGet, "/get_recipes?ingredients=milk&limit=50", suite.token, nil)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodGet, "/get_recipes", suite.token, nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code, "no ingredients gives an empty list")
	assert.JSONEq(suite.T(), "[]", w.Body.String())

	suite.recipes.On("FindByIngredients", []string{"milk"}, 3).Return(nil, errors.New("quota")).Once()
	w = suite.do(http.MethodGet, "/get_recipes?ingredients=milk", suite.token, nil)
	assert.Equal(suite.T(), http.StatusBadGateway, w.Code)
}

func (suite *HandlersTestSuite) TestRecipesNotConfigured() {
	suite.h.recipes = nil
	w := suite.do(http.MethodGet, "/get_recipes?ingredients=milk", suite.token, nil)
	assert.Equal(suite.T(), http.StatusServiceUnavailable, w.Code)
}

func (suite *HandlersTestSuite) TestHealthAndNotFound() {
	w := suite.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.JSONEq(suite.T(), `{"status":"ok","database":"SQLite"}`, w.Body.String())

	w = suite.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func TestLoggingMiddlewareSetsRequestID(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/add_item", http.NoBody))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, called)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
