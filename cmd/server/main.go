// Package main is the entry point for the interval alarm server.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "interval-alarm"
	app.Usage = "interval wake-up alarm scheduler"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "addr",
			Usage:  "HTTP server address (overrides HTTP_ADDR)",
			EnvVar: "HTTP_ADDR",
		},
		cli.StringFlag{
			Name:   "data",
			Usage:  "data directory for the SQLite database (overrides DATA_DIR)",
			EnvVar: "DATA_DIR",
		},
	}
	app.Action = serve
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the scheduler and HTTP API (default)",
			Action: serve,
		},
		{
			Name:   "health-check",
			Usage:  "check a running server and exit non-zero when unhealthy",
			Action: healthCheck,
		},
		{
			Name:      "preview",
			Usage:     "print the weekly occurrences of a plan",
			UsageText: "interval-alarm preview --start 07:00 --end 07:30 --interval 5 --days mon,tue",
			Action:    preview,
			Flags:     previewFlags,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", app.Name, err)
		os.Exit(1)
	}
}
