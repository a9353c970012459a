package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/pomelolab/pomelo/internal/api"
	"github.com/pomelolab/pomelo/internal/events"
	"github.com/pomelolab/pomelo/internal/task"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP API for dispatching specification runs",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "pomelo.yml",
			Usage:   "config file path",
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "override the listen address",
		},
	},
	Action: serveAction,
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}

	ctx := context.Background()
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	if notifier != nil {
		defer notifier.Close()
	}

	hub := events.NewHub()
	registry := task.NewMemoryRegistry()
	dispatcher := task.NewDispatcher(task.DispatcherConfig{
		Registry: registry,
		Run:      makeRunFunc(cfg, hub),
		Timeout:  cfg.Settings.RunTimeout,
		Store:    st,
		Notifier: notifier,
	})

	server := api.NewServer(addr, registry, dispatcher, hub, cfg.SpecDefaults())

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
