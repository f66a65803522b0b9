package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jingfee/sungrow-scheduler/pkg/controller"
	"github.com/jingfee/sungrow-scheduler/pkg/ess"
	"github.com/jingfee/sungrow-scheduler/pkg/forecast"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/jingfee/sungrow-scheduler/pkg/notify"
	"github.com/jingfee/sungrow-scheduler/pkg/prices"
	"github.com/jingfee/sungrow-scheduler/pkg/server"
	"github.com/jingfee/sungrow-scheduler/pkg/storage"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// secrets default from the environment so load .env before flags register
	envErr := godotenv.Load()

	// init packages
	p := prices.Configured()
	f := forecast.Configured()
	e := ess.Configured()
	s := storage.Configured()
	n := notify.Configured()
	c := controller.Configured(p, f, e, s, n)

	// init server
	srv := server.Configured(c)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Ctx(ctx).WarnContext(ctx, "failed to load .env file", slog.Any("error", envErr))
	}

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
