package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yujin2003/swimpro-sub001/internal/auth"
	"github.com/yujin2003/swimpro-sub001/internal/logger"
	"github.com/yujin2003/swimpro-sub001/internal/server"
	"github.com/yujin2003/swimpro-sub001/internal/storage"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// A missing .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	config, err := server.LoadConfig()
	if err != nil {
		return exitConfig, err
	}

	log, err := logger.New(config.LogLevel)
	if err != nil {
		return exitConfig, err
	}
	defer func() { _ = log.Sync() }()

	db, err := storage.Open(config.BadgerFilepath)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		log.Info("closing message store")
		if err := db.Close(); err != nil {
			log.Error("error closing message store", zap.Error(err))
		}
	}()

	store := storage.NewBadgerStore(db, log.Named("storage"))
	verifier := auth.NewVerifier([]byte(config.JWTSecret))

	chat := server.NewChatServer(config, verifier, store, log)
	chat.Start()

	httpServer := server.CreateServer(config.Port, chat.SetupRoutes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.StartServer(httpServer, log)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errChan:
		if err != nil {
			_ = chat.Shutdown(config.ShutdownTimeout)
			return exitRuntime, fmt.Errorf("http server error: %w", err)
		}
	}

	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}
	if err := chat.Shutdown(config.ShutdownTimeout); err != nil {
		log.Warn("chat relay did not shut down cleanly", zap.Error(err))
	}

	log.Info("server stopped cleanly")
	return exitOK, nil
}
