package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahrav/go-promptlab/internal/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, version)
	stop()
	os.Exit(code)
}
