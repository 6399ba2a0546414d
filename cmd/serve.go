package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatlift/funnel-cli/internal/export"
	"github.com/chatlift/funnel-cli/internal/model"
	"github.com/chatlift/funnel-cli/internal/monitoring"
	"github.com/chatlift/funnel-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation trigger and query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		router := buildRouter(st, func(rctx context.Context) (*model.Run, error) {
			run, _, err := executeRun(rctx, st, "api")
			return run, err
		})

		if cfg.Monitor.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitor),
				cfg.Monitor,
			)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the API surface. The reconcile hook runs one
// reconciliation; at most one runs at a time, a second trigger gets 409.
func buildRouter(st store.Store, reconcile func(context.Context) (*model.Run, error)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	var reconciling sync.Mutex

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		limit := 20
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = n
		}
		filter := store.RunFilter{
			Status: model.RunStatus(req.URL.Query().Get("status")),
			Limit:  limit,
		}
		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Post("/api/reconcile", func(w http.ResponseWriter, req *http.Request) {
		if !reconciling.TryLock() {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a reconciliation is already running"})
			return
		}

		// Detach from the request context: the run outlives the response.
		go func() {
			defer reconciling.Unlock()
			run, err := reconcile(context.WithoutCancel(req.Context()))
			if err != nil {
				zap.L().Error("api-triggered run failed", zap.Error(err))
				return
			}
			zap.L().Info("api-triggered run complete",
				zap.String("run_id", run.ID),
				zap.Int("companies", run.Companies),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Get("/api/dataset/latest", func(w http.ResponseWriter, req *http.Request) {
		runID, ds, err := st.LatestDataset(req.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if ds == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no dataset archived yet"})
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("X-Run-ID", runID)
		w.Header().Set("Content-Disposition", `attachment; filename="combined_dataset.csv"`)
		if err := export.WriteCSVTo(w, ds); err != nil {
			zap.L().Error("stream dataset failed", zap.Error(err))
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
