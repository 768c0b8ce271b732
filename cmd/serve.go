package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/brandscan/internal/model"
	"github.com/sells-group/brandscan/internal/monitoring"
	"github.com/sells-group/brandscan/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagnosis API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		checker := monitoring.NewChecker(env.Collector, alerter, cfg.Monitoring)
		go checker.Run(ctx)

		router := newRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

func newRouter(env *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/providers/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.Breakers.Healths())
	})

	r.Post("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Brand       string           `json:"brand"`
			Competitors []string         `json:"competitors"`
			Questions   []model.Question `json:"questions"`
			Families    []string         `json:"families"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		runID, err := env.Engine.StartRun(req.Context(), model.DiagnosisConfig{
			Brand:       body.Brand,
			Competitors: body.Competitors,
			Questions:   body.Questions,
			Families:    body.Families,
		})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	})

	r.Get("/api/runs/{id}/status", func(w http.ResponseWriter, req *http.Request) {
		snap, err := env.Engine.GetStatus(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/api/runs/{id}/report", func(w http.ResponseWriter, req *http.Request) {
		report, err := env.Engine.GetReport(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		runs, err := env.Store.ListRuns(req.Context(), store.RunFilter{
			Status: model.RunStatus(req.URL.Query().Get("status")),
			Brand:  req.URL.Query().Get("brand"),
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	return r
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}
