package command

import (
	"context"
	"fmt"
	"os"

	"github.com/pomelolab/pomelo/internal/browser"
	"github.com/pomelolab/pomelo/internal/config"
	"github.com/pomelolab/pomelo/internal/executor"
	"github.com/pomelolab/pomelo/internal/notify"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
	"github.com/pomelolab/pomelo/internal/store"
	"github.com/pomelolab/pomelo/internal/task"
)

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "fs":
		return store.NewFSStore(cfg.Store.Dir)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.DSN)
	case "redis":
		return store.NewRedisStore(ctx, cfg.Store.Addr, cfg.Store.Password, cfg.Store.DB, cfg.Store.TTL)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Store.Type)
	}
}

func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Type {
	case "kafka":
		return notify.NewKafkaNotifier(cfg.Notify.Brokers, cfg.Notify.Topic)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown notify type: %s", cfg.Notify.Type)
	}
}

// makeRunFunc builds the dispatcher's run function. Each invocation owns a
// fresh runner and browser session.
func makeRunFunc(cfg *config.Config, emitter executor.Emitter) task.RunFunc {
	display := browser.DetectDisplay()
	return func(ctx context.Context, s *spec.Specification) *result.Specification {
		runner := executor.NewSpecificationRunner(executor.RunnerConfig{
			DisplayAvailable: display,
			ActionTimeout:    cfg.Browser.ActionTimeout,
			Emitter:          emitter,
		})
		return runner.Run(ctx, s)
	}
}
