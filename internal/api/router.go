package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/api/middleware"
	"github.com/adi-253/roomfeed/backend/internal/handlers"
	"github.com/adi-253/roomfeed/backend/internal/websocket"
)

// Deps are the handlers and settings the router is built from.
type Deps struct {
	Rooms       *handlers.RoomHandler
	Activity    *handlers.ActivityHandler
	Gateway     *websocket.Handler
	Backend     string
	CORSOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", handlers.HealthCheck(deps.Backend))

	// Channel gateway for realtime clients
	if deps.Gateway != nil {
		r.Get("/ws", deps.Gateway.ServeWS)
	}

	r.Route("/api/rooms", func(r chi.Router) {
		r.Use(middleware.RequireUser)

		r.Get("/", deps.Rooms.ListRooms)
		r.Post("/", deps.Rooms.CreateRoom)
		r.Get("/{id}", deps.Rooms.GetRoom)
		r.Post("/{id}/join", deps.Rooms.JoinRoom)

		// Polling fallback for clients without a channel connection
		r.Get("/{id}/activity", deps.Activity.GetActivity)
		r.Post("/{id}/activity/text", deps.Activity.SendText)
		r.Post("/{id}/activity/share", deps.Activity.Share)
		r.Get("/{id}/presence", deps.Activity.Presence)
	})

	return r
}
