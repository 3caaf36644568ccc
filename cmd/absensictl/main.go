package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"absensi/internal/app"
	"absensi/internal/cli"
	"absensi/internal/config"
)

// absensictl is a second execution context on the same store: with
// BROADCAST_BACKEND=redis its writes refresh running servers and `watch`
// follows theirs.
func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(cli.Options{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
		Open: func(ctx context.Context, logger *zap.Logger) (*app.Runtime, error) {
			return app.Open(ctx, cfg, logger)
		},
		Location: cfg.Location(),
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
