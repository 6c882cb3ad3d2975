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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camera-peer/configs"
	"camera-peer/internal"
	"camera-peer/internal/answerer"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	envs := configs.MustConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
	}))

	ans := answerer.New(envs, logger)

	r := chi.NewRouter()
	r.Use(chiprometheus.NewMiddleware("answerer"))
	r.Use(internal.RequestLogger(logger))
	ans.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    envs.AnswererHost + ":" + envs.AnswererPort,
		Handler: r,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("answerer server stopped", "err", err)
			os.Exit(1)
		}
	}()
	logger.Info("answerer started and running on port :" + envs.AnswererPort)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutting down answerer server", "err", err)
	}
	ans.Close()
}
