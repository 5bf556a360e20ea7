package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel-service/internal/factory"
	"sentinel-service/internal/handler"
	"sentinel-service/internal/util"
)

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	eventHandler := handler.NewEventHandler(f.ESClient(), cfg, util.Get())
	router := handler.NewRouter(eventHandler, cfg.API.Key, util.Get())

	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Single background ingestion task; its fatal errors stop the process.
	processorCtx, cancelProcessor := context.WithCancel(context.Background())
	defer cancelProcessor()

	processorErr := make(chan error, 1)
	go func() {
		processorErr <- f.Processor().Run(processorCtx)
	}()

	go func() {
		util.Info("Server started",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	waitForShutdown(server, cancelProcessor, processorErr)
	f.Close()
}

func waitForShutdown(server *http.Server, cancelProcessor context.CancelFunc, processorErr <-chan error) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-signalChan:
		util.Info("Received shutdown signal", util.String("signal", sig.String()))
	case err := <-processorErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			util.Error("Event processor terminated", util.ErrorField(err))
		}
	}

	cancelProcessor()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}
}
