package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"backend-tripweave/internal/planner"
	"backend-tripweave/internal/session"
	"backend-tripweave/internal/stream"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local itinerary API and sync in the background",
	Long: `Opens the session's sync log and cached itinerary, probes the backend for
connectivity and serves the itinerary API on PLANNER_PORT:

  /itinerary/...            itinerary edits and sync controls
  /stream/ws/:session       live sync status over WebSocket`,
	RunE: runServe,
}

var listenFn = func(ctx context.Context, sess *session.Session, hub *stream.Hub, addr string) error {
	app := newApp(sess, hub)
	errCh := make(chan error, 1)
	go func() { errCh <- app.Listen(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return app.ShutdownWithTimeout(5 * time.Second)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	gen, err := planner.Default()
	if err != nil {
		return err
	}

	var sess *session.Session
	hub := stream.NewHub(rt.redis, stream.WithLogger(logger), stream.WithSnapshot(func(id string) []byte {
		if sess == nil {
			return nil
		}
		return sess.StatusSnapshot(id)
	}))
	defer hub.Close()

	monitor := newMonitor(cfg, rt, logger)
	sess, err = session.Open(ctx, session.Config{
		ID:           cfg.SessionID,
		KV:           rt.kv,
		Adapter:      rt.adapter,
		Monitor:      monitor,
		Planner:      gen,
		Hub:          hub,
		Logger:       logger,
		QueueOptions: queueOptions(cfg, logger),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	monitor.Start(ctx)
	defer monitor.Stop()

	logger.Info("planner listening",
		zap.String("addr", cfg.PlannerPort),
		zap.String("session", cfg.SessionID),
		zap.String("kv", cfg.KVBackend),
		zap.String("remote", cfg.RemoteMode),
	)
	return listenFn(ctx, sess, hub, cfg.PlannerPort)
}
