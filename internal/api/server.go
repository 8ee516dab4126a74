// Package api exposes the sync backend to the UI: a JSON HTTP API for the
// queue, manual syncs and writes, and a WebSocket stream of status changes
// and cache invalidations.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Andival-Sei/pennora/backend/internal/logging"
	"github.com/Andival-Sei/pennora/backend/internal/models"
	"github.com/Andival-Sei/pennora/backend/internal/mutation"
	syncpkg "github.com/Andival-Sei/pennora/backend/internal/sync"
)

// QueueService is the queue API served over HTTP. *queue.Manager
// implements it.
type QueueService interface {
	GetAll(ctx context.Context) ([]models.QueueOperation, error)
	GetByTable(ctx context.Context, table models.Table) ([]models.QueueOperation, error)
	GetNext(ctx context.Context) (*models.QueueOperation, error)
	GetStatus(ctx context.Context) (models.QueueStatus, error)
	Remove(ctx context.Context, id string) error
	ClearProcessed(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) error
}

// Writer performs record writes with offline fallback. *mutation.Mutator
// implements it.
type Writer interface {
	Create(ctx context.Context, table models.Table, data models.Payload) (mutation.Outcome, error)
	Update(ctx context.Context, table models.Table, recordID string, data models.Payload) (mutation.Outcome, error)
	Delete(ctx context.Context, table models.Table, recordID string) (mutation.Outcome, error)
}

// Config holds HTTP server configuration.
type Config struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server wires the HTTP routes.
type Server struct {
	engine syncpkg.SyncEngineInterface
	queue  QueueService
	writer Writer
	status syncpkg.StatusReader
	hub    *Hub
	config Config
	router chi.Router
}

// NewServer creates a Server. The hub is owned by the caller so it can
// also serve as the engine's cache invalidation hook.
func NewServer(engine syncpkg.SyncEngineInterface, queue QueueService, writer Writer, status syncpkg.StatusReader, hub *Hub, config Config) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:3000"}
	}
	s := &Server{
		engine: engine,
		queue:  queue,
		writer: writer,
		status: status,
		hub:    hub,
		config: config,
	}
	s.router = s.routes()
	engine.SetEventHandler(hub.BroadcastSyncEvent)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/sync", s.handleSyncAll)
		r.Post("/sync/{table}", s.handleSyncTable)

		r.Get("/queue", s.handleListQueue)
		r.Get("/queue/status", s.handleQueueStatus)
		r.Get("/queue/next", s.handleQueueNext)
		r.Post("/queue/purge", s.handlePurgeQueue)
		r.Delete("/queue", s.handleClearQueue)
		r.Delete("/queue/{id}", s.handleRemoveOperation)

		r.Post("/records/{table}", s.handleCreateRecord)
		r.Patch("/records/{table}/{id}", s.handleUpdateRecord)
		r.Delete("/records/{table}/{id}", s.handleDeleteRecord)
	})
	return r
}

// Relay forwards status changes to WebSocket clients until ctx is done.
// Engine events are forwarded from construction on.
func (s *Server) Relay(ctx context.Context) {
	updates, cancel := s.status.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			s.hub.BroadcastStatus(st)
		}
	}
}

// requestLogger logs each request through internal/logging.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}
