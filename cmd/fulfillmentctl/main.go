package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/fulfillment/cmd/fulfillmentctl/cli"
	"github.com/odyssey-erp/fulfillment/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	ops := cli.NewJobsCLI(cfg.RedisAddr)
	defer ops.Close()

	if err := cli.Run(ctx, os.Args[1:], os.Stdout, ops); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
