package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"grocery-tracker/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestIDHeader carries the request identifier back to the caller.
const RequestIDHeader = "X-Request-ID"

// Routes returns the API routes without the outer middleware chain.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/get_list/{user_id}", h.ListItems)
		r.Get("/get_expiring_soon/{user_id}", h.ExpiringSoon)
		r.Get("/get_expired/{user_id}", h.Expired)
		r.Get("/get_shopping_history/{user_id}", h.ShoppingHistory)
		r.Get("/get_dashboard/{user_id}", h.Dashboard)
		r.Post("/add_item", h.AddItem)
		r.Delete("/delete_item/{item_id}", h.DeleteItem)
		r.Get("/get_recipes", h.Recipes)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// LoggingMiddleware logs the details of each HTTP request and tags it with a request ID.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = auth.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slog.Info("HTTP Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", requestID,
		)
	})
}

// CORSMiddleware allows browser clients from any origin to call the API.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
