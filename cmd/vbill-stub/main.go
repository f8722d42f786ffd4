package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/writer/internal/stubapi"
)

func main() {
	port := flag.Int("port", 5001, "listen port")
	failureRate := flag.Float64("failure-rate", 0.3, "probability of answering 503")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	slogLevel := slog.LevelInfo
	if *isDebug {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           stubapi.NewServer(stubapi.Config{FailureRate: *failureRate}, nil).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Stub billing API listening", "port", *port, "failure_rate", *failureRate)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Stub server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}
