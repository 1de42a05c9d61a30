// Command mudra-worker runs hand detection for a mudra host process,
// exchanging framed messages over stdin and stdout.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/worker"
)

func main() {
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*level)); err != nil {
		lvl = slog.LevelInfo
	}
	// stdout carries the protocol; logs go to stderr for the host to collect.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	t := worker.NewStreamTransport(os.Stdin, os.Stdout, os.Stdout)
	defer t.Close()

	if err := worker.Serve(ctx, t, detector.MediaPipeFactory, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
