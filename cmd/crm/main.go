package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crm/cmd/internal/app"
	"crm/cmd/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := app.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "crm: .env:", err)
		return 2
	}
	cli.SetVersion(version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx, os.Args[1:]); err != nil {
		if !errors.Is(err, cli.ErrDenied) {
			fmt.Fprintln(os.Stderr, "crm:", err)
		}
		return 1
	}
	return 0
}
