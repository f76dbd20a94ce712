package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/lox/extremetemps/internal/imagegen"
	"github.com/lox/extremetemps/internal/ingest"
	"github.com/lox/extremetemps/internal/insight"
	"github.com/lox/extremetemps/internal/store"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	store    *store.Store
	insights *insight.Service
	refresh  *ingest.RefreshManager
	cards    *imagegen.Cache
	clock    clockwork.Clock
	logger   *slog.Logger
	port     string

	validate *validator.Validate
	render   singleflight.Group // collapses concurrent renders of the same card
}

// Options carries the server's optional collaborators.
type Options struct {
	Port   string
	Cards  *imagegen.Cache
	Clock  clockwork.Clock
	Logger *slog.Logger
}

func NewServer(st *store.Store, insights *insight.Service, refresh *ingest.RefreshManager, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Port == "" {
		opts.Port = "8080"
	}
	return &Server{
		store:    st,
		insights: insights,
		refresh:  refresh,
		cards:    opts.Cards,
		clock:    opts.Clock,
		logger:   opts.Logger,
		port:     opts.Port,
		validate: newValidator(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stations/nearby", s.handleNearbyStations)
		r.Get("/stations/{id}", s.handleStation)

		r.Get("/insights/window", s.handleWindowInsight)
		r.Get("/insights/latest", s.handleLatestInsights)
		r.Get("/insights/card.png", s.handleInsightCard)

		r.Get("/series/window", s.handleSeries)
		r.Get("/records", s.handleRecords)

		r.Get("/rankings/seasonal", s.handleSeasonalRanking)
		r.Get("/rankings/extremes", s.handleExtremesRanking)

		r.Route("/manage", func(r chi.Router) {
			r.Post("/refresh", s.handleRefresh)
			r.Get("/refresh-status", s.handleRefreshStatus)
			r.Get("/last-updated", s.handleLastUpdated)
			r.Get("/ingest-health", s.handleIngestHealth)
		})
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server: shutdown", "error", err)
		}
	}()

	s.logger.Info("server: listening", "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
