package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/engine"
	"bedtime-stories/server/internal/interfaces"
	"bedtime-stories/server/internal/metrics"
	"bedtime-stories/server/internal/models"
	"bedtime-stories/server/internal/storage"
)

const maxBodyBytes = 1 << 20

// SessionIndex lists the checkpointed sessions of a user.
type SessionIndex interface {
	RecentSessions(ctx context.Context, userID string, limit int64) ([]string, error)
}

// StoryArchive reads finished sessions.
type StoryArchive interface {
	GetStory(ctx context.Context, id string) (*models.Story, error)
	ListStories(ctx context.Context, userID string, limit int) ([]models.Story, error)
}

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handlers serves the HTTP API.
type Handlers struct {
	manager     *engine.Manager
	hub         *Hub
	narrator    interfaces.Narrator
	illustrator interfaces.Illustrator
	sessions    SessionIndex
	archive     StoryArchive
	log         *zap.Logger
}

// Option configures optional collaborators of Handlers.
type Option func(*Handlers)

// WithNarrator enables the audio endpoints.
func WithNarrator(n interfaces.Narrator) Option {
	return func(h *Handlers) { h.narrator = n }
}

// WithIllustrator enables the image endpoint.
func WithIllustrator(i interfaces.Illustrator) Option {
	return func(h *Handlers) { h.illustrator = i }
}

// WithSessionIndex enables listing a user's recent sessions.
func WithSessionIndex(s SessionIndex) Option {
	return func(h *Handlers) { h.sessions = s }
}

// WithArchive enables the archive endpoints.
func WithArchive(a StoryArchive) Option {
	return func(h *Handlers) { h.archive = a }
}

// NewHandlers creates the API handlers. hub may be nil when no play
// clients are served.
func NewHandlers(manager *engine.Manager, hub *Hub, log *zap.Logger, opts ...Option) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{manager: manager, hub: hub, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter mounts the API on a chi router.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.CloseSession)
				r.Post("/advance", h.AdvanceSession)
				r.Post("/save", h.SaveStory)
				r.Get("/play", h.Play)
			})
		})
		r.Route("/users/{user_id}", func(r chi.Router) {
			r.Get("/stories", h.ListTitles)
			r.Get("/sessions", h.ListSessions)
			r.Get("/archive", h.ListArchive)
		})
		r.Get("/archive/{id}", h.GetArchived)

		r.Get("/voices", h.ListVoices)
		r.Post("/audio", h.GenerateAudio)
		r.Get("/styles", h.ListStyles)
		r.Post("/images", h.GenerateImage)
	})

	return r
}

// HealthCheck reports liveness and the number of live sessions.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"service":         "bedtime-stories",
		"active_sessions": h.manager.ActiveCount(),
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: status < http.StatusBadRequest, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeMessage(w, status, err.Error())
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, storage.ErrStoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrGenerationUnavailable),
		errors.Is(err, interfaces.ErrSummarizationUnavailable),
		errors.Is(err, interfaces.ErrEmbeddingUnavailable),
		errors.Is(err, interfaces.ErrAssetUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
