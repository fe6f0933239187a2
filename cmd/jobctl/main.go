// jobctl is the operator tool for the application job queue.
//
// Usage:
//
//	jobctl [--config PATH] [--json] <command> [flags]
//
// Commands:
//
//	migrate   Apply or list database migrations
//	jobs      List jobs and show execution trails
//	retry     Re-queue FAILED jobs
//	reclaim   Fail jobs whose worker lease expired
//	token     Mint an API token
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/applyflow/internal/cli"
)

// version is set through ldflags at build time.
var version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	defaultConfig := os.Getenv("JOBCTL_CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/api-service/config.yaml"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	root, closeBackend := cli.NewRootCmd(cli.OpenBackend, defaultConfig, version)
	err := root.ExecuteContext(ctx)
	closeBackend()
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
