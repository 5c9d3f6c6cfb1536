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

	"github.com/sells-group/lead-sourcing/internal/engine"
	"github.com/sells-group/lead-sourcing/internal/events"
	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/monitoring"
	"github.com/sells-group/lead-sourcing/internal/store"
	"github.com/sells-group/lead-sourcing/internal/workflow"
)

var (
	servePort     int
	serveTemporal bool
	serveNoCron   bool
)

// launcher starts a run without waiting for it. *engine.Engine and
// *workflow.Starter satisfy it.
type launcher interface {
	Start(ctx context.Context, trigger model.Trigger) error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve on-demand triggers over HTTP and AMQP and run the schedule",
	Long: "Accepts POST /v1/runs and leads.segment_pull.requested events. " +
		"Runs execute in-process with the cron scheduler, or through Temporal with --temporal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		var launch launcher = env.Engine
		if serveTemporal {
			c, err := workflow.Dial(cfg.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()
			launch = workflow.NewStarter(c, cfg.Temporal.TaskQueue, workflowInput())
			zap.L().Info("triggers route to temporal", zap.String("task_queue", cfg.Temporal.TaskQueue))
		} else if !serveNoCron {
			sched, err := engine.NewScheduler(env.Engine, cfg.Engine.Schedule)
			if err != nil {
				return err
			}
			go sched.Run(ctx)
		}

		if env.Events != nil && cfg.AMQP.TriggerQueue != "" {
			sub := events.NewSubscriber(env.Events.Channel(), cfg.AMQP.TriggerQueue, eventHandler(launch))
			go func() {
				if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
					zap.L().Error("trigger subscriber stopped", zap.Error(err))
				}
			}()
		}

		if checker := initChecker(env.Store); checker != nil {
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildMux(ctx, launch, env.Store),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
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

// initChecker returns nil when no alert webhook is configured.
func initChecker(runs store.RunStore) *monitoring.Checker {
	mc := cfg.Monitoring
	if mc.WebhookURL == "" {
		return nil
	}
	return monitoring.NewChecker(monitoring.NewCollector(runs), monitoring.NewAlerter(mc), mc)
}

// eventHandler starts a run for each trigger event. A trigger that finds a
// run in progress is acknowledged and dropped.
func eventHandler(launch launcher) events.Handler {
	return func(ctx context.Context, req events.RunRequest) error {
		err := launch.Start(ctx, model.TriggerEvent)
		if errors.Is(err, engine.ErrRunInProgress) {
			zap.L().Info("event trigger ignored, run in progress", zap.String("requested_by", req.RequestedBy))
			return nil
		}
		return err
	}
}

// buildMux wires the HTTP surface. launch may be nil, in which case run
// triggers answer 503.
func buildMux(ctx context.Context, launch launcher, runs store.RunStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			if launch == nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "runs are not enabled"})
				return
			}
			err := launch.Start(ctx, model.TriggerHTTP)
			switch {
			case errors.Is(err, engine.ErrRunInProgress):
				writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress"})
			case err != nil:
				zap.L().Error("http trigger failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start run"})
			default:
				writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
			}
		})

		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			if runs == nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history unavailable"})
				return
			}
			list, err := runs.ListRuns(req.Context(), store.RunFilter{
				Status: model.RunStatus(req.URL.Query().Get("status")),
				Limit:  20,
			})
			if err != nil {
				zap.L().Error("list runs failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
				return
			}
			writeJSON(w, http.StatusOK, list)
		})

		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			if runs == nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history unavailable"})
				return
			}
			run, err := runs.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveTemporal, "temporal", false, "start runs as Temporal workflows instead of in-process")
	serveCmd.Flags().BoolVar(&serveNoCron, "no-cron", false, "disable the in-process cron scheduler")
	rootCmd.AddCommand(serveCmd)
}
