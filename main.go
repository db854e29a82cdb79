package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/cmd/migrate"
	"github.com/chirino/resume-chat/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

// version is replaced at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "resume-chat",
		Usage:   "Conversational resume editing service",
		Version: version,
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal("resume-chat failed", "err", err)
	}
}
