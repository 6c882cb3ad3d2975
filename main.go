package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chiprometheus "github.com/766b/chi-prometheus"
	"github.com/go-chi/chi"

	"camera-peer/configs"
	"camera-peer/external/signaling"
	"camera-peer/internal"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	envs := configs.MustConfig()
	minioConfig := configs.MustConfigMinio()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := internal.NewRecordingStore(minioConfig, logger)
	if err != nil {
		panic(err)
	}
	if err := store.CreateBucket(ctx); err != nil {
		panic(err)
	}

	capture := internal.NewRTSPCapture(envs.CameraURL, logger)
	signaler := signaling.NewService(envs.SignalingURL, time.Duration(envs.SignalingTimeout)*time.Second, logger)
	recorder := internal.NewRecorderSink(store, logger)

	session := internal.NewSession(
		capture,
		signaler,
		[]internal.PresentationSink{recorder},
		envs.StunServers,
		logger,
		internal.WithGatheringTimeout(time.Duration(envs.GatheringTimeout)*time.Second),
	)

	monitor := internal.NewMonitor(store, logger)
	session.SetStatusHandler(monitor.OnStatus)

	r := chi.NewRouter()
	r.Use(chiprometheus.NewMiddleware("camera_peer"))
	r.Use(internal.RequestLogger(logger))
	monitor.RegisterRoutes(r)

	server := &http.Server{
		Addr:    envs.ServerHost + ":" + envs.ServerPort,
		Handler: r,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("monitor server stopped", "err", err)
			os.Exit(1)
		}
	}()
	logger.Info("monitor started and running on port :" + envs.ServerPort)

	go func() {
		if err := session.Begin(ctx); err != nil {
			logger.Error("negotiation failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	session.End()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutting down monitor server", "err", err)
	}
}
