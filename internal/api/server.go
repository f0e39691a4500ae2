// Package api is the HTTP and WebSocket control surface of the engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/bbernstein/lacylights-engine/internal/config"
	"github.com/bbernstein/lacylights-engine/internal/database/models"
	"github.com/bbernstein/lacylights-engine/internal/database/repositories"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/artnet"
	"github.com/bbernstein/lacylights-engine/internal/services/layers"
	"github.com/bbernstein/lacylights-engine/internal/services/output"
	"github.com/bbernstein/lacylights-engine/internal/services/pipeline"
	"github.com/bbernstein/lacylights-engine/internal/services/pubsub"
)

// Deps holds everything the API drives. Discovery may be nil.
type Deps struct {
	Config     *config.Config
	Log        *logger.Log
	Pipeline   *pipeline.Pipeline
	Scheduler  *output.Scheduler
	Programmer *layers.Programmer
	Presets    *layers.Presets
	Executor   *layers.Executor
	PatchRepo  *repositories.PatchRepository
	PresetRepo *repositories.PresetRepository
	PubSub     *pubsub.PubSub
	Discovery  *artnet.Discovery
	Version    string
}

// Server serves the REST and WebSocket API.
type Server struct {
	Deps
	log     *logger.Log
	started time.Time
	handler http.Handler
}

// New builds the server and its router.
func New(deps Deps) *Server {
	s := &Server{
		Deps:    deps,
		log:     deps.Log.Module("api"),
		started: time.Now(),
	}
	s.handler = s.buildRouter()
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/universes", s.handleListUniverses)
		r.Get("/universes/{id}", s.handleGetUniverse)
		r.Get("/fixtures", s.handleListFixtures)
		r.Get("/fixtures/{id}", s.handleGetFixture)

		r.Route("/programmer", func(r chi.Router) {
			r.Get("/", s.handleGetProgrammer)
			r.Delete("/", s.handleClearProgrammer)
			r.Put("/{fixture}/{attribute}", s.handleSetProgrammer)
			r.Delete("/{fixture}/{attribute}", s.handleUnsetProgrammer)
		})

		r.Route("/presets", func(r chi.Router) {
			r.Get("/", s.handleListPresets)
			r.Delete("/", s.handleReleaseAllPresets)
			r.Get("/{name}", s.handleGetPreset)
			r.Put("/{name}", s.handleSavePreset)
			r.Delete("/{name}", s.handleDeletePreset)
			r.Post("/{name}/recall", s.handleRecallPreset)
			r.Post("/{name}/release", s.handleReleasePreset)
		})

		r.Route("/executor", func(r chi.Router) {
			r.Get("/", s.handleGetExecutor)
			r.Post("/fade", s.handleFade)
			r.Get("/fades/{id}", s.handleGetFade)
			r.Delete("/fades/{id}", s.handleCancelFade)
			r.Delete("/", s.handleReleaseExecutor)
		})

		r.Get("/sources", s.handleListSources)
		r.Get("/network/interfaces", s.handleListInterfaces)
		r.Get("/artnet/nodes", s.handleListNodes)
		r.Post("/artnet/poll", s.handlePollNodes)
	})

	origins := []string{"http://localhost:3000", "http://localhost:4000"}
	debug := false
	if s.Config != nil {
		origins = append([]string{s.Config.CORSOrigin}, origins...)
		debug = s.Config.IsDevelopment()
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		Debug:            debug,
	})
	return c.Handler(r)
}

// LoadPresets fills the preset layer from the database.
func (s *Server) LoadPresets(ctx context.Context) error {
	rows, err := s.PresetRepo.FindAll(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.Presets.Store(row.Name, presetValues(row.Values))
	}
	s.log.WithField("count", len(rows)).Info("Presets loaded")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"output":    s.Scheduler.IsRunning(),
	})
}

func presetValues(rows []models.PresetValue) []layers.Value {
	values := make([]layers.Value, 0, len(rows))
	for _, row := range rows {
		v, ok := fromRow(row)
		if ok {
			values = append(values, v)
		}
	}
	return values
}
