// Package admin exposes the mail sink settings form as a small JSON API.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/mail-sink/internal/form"
	"github.com/shineum/mail-sink/internal/settings"
)

// Config holds the settings for the admin handler.
type Config struct {
	// Username and Password enable HTTP basic auth when both are set.
	Username string
	Password string
}

// Handler serves the settings API.
type Handler struct {
	form   *form.Form
	store  settings.Store
	router chi.Router
}

type settingsResponse struct {
	FormID        string      `json:"form_id"`
	Values        form.Values `json:"values"`
	DefaultMailer string      `json:"default_mailer"`
}

// fieldError carries both the rendered message and its translatable parts.
type fieldError struct {
	Field    string            `json:"field"`
	Message  string            `json:"message"`
	Template string            `json:"template"`
	Args     map[string]string `json:"args,omitempty"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

// New builds the router.
func New(f *form.Form, store settings.Store, cfg Config) *Handler {
	h := &Handler{form: f, store: store, router: chi.NewRouter()}

	r := h.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		if cfg.Username != "" && cfg.Password != "" {
			r.Use(middleware.BasicAuth("mail-sink", map[string]string{cfg.Username: cfg.Password}))
		}
		r.Get("/settings", h.handleGetSettings)
		r.Post("/settings", h.handlePostSettings)
	})
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	resp, err := h.current()
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load settings"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	// Start from the current values so partial bodies only change what they name.
	current, err := h.form.Build()
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load settings"})
		return
	}

	values := current
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	errs, err := h.form.Process(values)
	if err != nil {
		slog.Error("failed to save settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to save settings"})
		return
	}
	if len(errs) > 0 {
		resp := errorResponse{Error: "validation failed"}
		for _, fe := range errs {
			resp.Fields = append(resp.Fields, fieldError{
				Field:    fe.Field,
				Message:  fe.Message.String(),
				Template: fe.Message.Template,
				Args:     fe.Message.Args,
			})
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	resp, err := h.current()
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load settings"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) current() (settingsResponse, error) {
	values, err := h.form.Build()
	if err != nil {
		return settingsResponse{}, err
	}
	mail, err := settings.Open(h.store, settings.MailSystem)
	if err != nil {
		return settingsResponse{}, err
	}
	mailer, _ := mail.Get(settings.KeyDefaultMailer)
	return settingsResponse{FormID: form.ID, Values: values, DefaultMailer: mailer}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// requestLogger logs one line per request with slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
