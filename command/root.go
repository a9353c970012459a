package command

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/pomelolab/pomelo/internal/version"
)

func Run(args []string) error {
	app := &cli.App{
		Name:    "pomelo",
		Usage:   "Browser-driven specification runner",
		Version: version.Version,
		Description: `Pomelo executes structured test specifications (feature, scenarios,
Given/When/Then steps) against a real browser and produces a hierarchical
result tree. Specifications can run from the CLI or behind the HTTP API.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level (trace, debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "emit logs as JSON instead of console output",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := zerolog.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(level)
			if !c.Bool("log-json") {
				log.Logger = log.Output(zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.Kitchen,
				})
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			serveCommand,
			validateCommand,
			versionCommand,
		},
	}

	return app.Run(args)
}
