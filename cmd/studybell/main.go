package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	appLog "studybell/internal/log"
)

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := NewApp(afero.NewOsFs())
	defer app.Close()

	if err := SetupCommands(app).ExecuteContext(ctx); err != nil {
		appLog.Error("studybell failed", err)
		app.Close()
		os.Exit(1)
	}
}
