package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/event-ingest/internal/eventsync"
	"github.com/sells-group/event-ingest/internal/model"
	"github.com/sells-group/event-ingest/internal/monitoring"
	"github.com/sells-group/event-ingest/internal/store"
)

var servePort int

// syncTrigger runs one pipeline invocation.
type syncTrigger interface {
	Run(ctx context.Context, opts eventsync.RunOptions) (*eventsync.RunReport, error)
}

// serverDeps are the collaborators of the trigger server. Any may be nil.
type serverDeps struct {
	Runner        syncTrigger
	Runs          monitoring.RunLister
	Collector     *monitoring.Collector
	Metrics       http.Handler
	LookbackHours int
	CORSOrigins   []string
	// AfterRun is called after every triggered run, e.g. to publish breaker state.
	AfterRun func()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initSync(ctx, -1)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Remote, env.Local)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		handler := buildMux(serverDeps{
			Runner:        env.Runner,
			Runs:          env.Remote,
			Collector:     collector,
			Metrics:       env.Recorder.Handler(),
			LookbackHours: cfg.Monitoring.LookbackWindowHours,
			CORSOrigins:   cfg.Server.CORSOrigins,
			AfterRun:      env.PublishBreakerState,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildMux wires the HTTP routes of the trigger server.
func buildMux(deps serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync", handleSync(deps))
		r.Get("/runs", handleRuns(deps))
		r.Get("/status", handleStatus(deps))
	})

	return r
}

func handleSync(deps serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runner == nil {
			writeError(w, http.StatusServiceUnavailable, "sync runner not configured")
			return
		}

		// Manual triggers force by default; that is how mode 0 deployments sync.
		req := struct {
			Force *bool `json:"force"`
		}{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		force := req.Force == nil || *req.Force

		// A batch is never cancelled midway; a client that disconnects
		// leaves the run to finish on its own.
		report, err := deps.Runner.Run(context.WithoutCancel(r.Context()), eventsync.RunOptions{Force: force})
		if deps.AfterRun != nil {
			deps.AfterRun()
		}
		switch {
		case errors.Is(err, store.ErrLocked):
			writeError(w, http.StatusConflict, "another sync run is in progress")
			return
		case err != nil:
			zap.L().Error("triggered sync failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

func handleRuns(deps serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runs == nil {
			writeError(w, http.StatusServiceUnavailable, "sync log not configured")
			return
		}

		filter := store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Limit:  50,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			filter.Limit = n
		}

		runs, err := deps.Runs.List(r.Context(), filter)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list runs failed")
			return
		}
		if runs == nil {
			runs = []model.SyncRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleStatus(deps serverDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Collector == nil {
			writeError(w, http.StatusServiceUnavailable, "monitoring not configured")
			return
		}
		hours := deps.LookbackHours
		if hours <= 0 {
			hours = 24
		}
		snap, err := deps.Collector.Collect(r.Context(), hours)
		if err != nil {
			zap.L().Error("collect status failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "collect status failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
