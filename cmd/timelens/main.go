package main

import (
	"context"
	"fmt"
	"os"

	"github.com/timelens/timelens/internal/cli"
	cliframework "github.com/urfave/cli/v3"
)

const version = "0.1.0-dev"

func main() {
	app := &cliframework.Command{
		Name:    "timelens",
		Usage:   "Multi-resolution timeline server for traces and metrics",
		Version: version,
		Commands: []*cliframework.Command{
			cli.ServeCommand(),
			cli.DoctorCommand(version),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ error: %v\n", err)
		os.Exit(1)
	}
}
