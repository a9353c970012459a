package command

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/pomelolab/pomelo/internal/config"
	"github.com/pomelolab/pomelo/internal/executor"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/runlog"
	"github.com/pomelolab/pomelo/internal/spec"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Execute a specification file against a browser",
	ArgsUsage: "<spec file>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "pomelo.yml",
			Usage:   "config file path",
		},
		&cli.StringFlag{
			Name:  "browser",
			Usage: "override the browser engine (chromium, firefox, webkit)",
		},
		&cli.BoolFlag{
			Name:  "headed",
			Usage: "run with a visible browser window when a display exists",
		},
		&cli.BoolFlag{
			Name:  "no-artifacts",
			Usage: "skip writing the run directory and stored result",
		},
	},
	Action: runAction,
}

func runAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("this command takes one argument: <spec file>")
	}
	specPath := c.Args().First()

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("reading specification: %w", err)
	}
	parsed, err := spec.ParseWithDefaults(data, cfg.SpecDefaults())
	if err != nil {
		return fmt.Errorf("parsing specification: %w", err)
	}
	if c.IsSet("browser") {
		engine := spec.Engine(c.String("browser"))
		if !engine.Valid() {
			return fmt.Errorf("unknown browser engine %q", c.String("browser"))
		}
		parsed.Configuration.Browser = engine
	}
	if c.Bool("headed") {
		parsed.Configuration.Headless = false
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Settings.RunTimeout)
	defer cancel()

	runFn := makeRunFunc(cfg, executor.NopEmitter{})
	res := runFn(ctx, parsed)

	if !c.Bool("no-artifacts") {
		if err := saveArtifacts(ctx, cfg, res); err != nil {
			log.Warn().Err(err).Msg("saving run artifacts")
		}
	}

	printSummary(res)

	if res.Status == result.StatusFailed {
		return cli.Exit("", 1)
	}
	return nil
}

func saveArtifacts(ctx context.Context, cfg *config.Config, res *result.Specification) error {
	runCtx, err := runlog.New(cfg.Settings.ArtifactsDir)
	if err != nil {
		return err
	}
	if err := runCtx.WriteResult("result", res); err != nil {
		return err
	}
	log.Info().Str("dir", runCtx.Dir).Msg("run artifacts written")

	st, err := buildStore(ctx, cfg)
	if err != nil || st == nil {
		return err
	}
	defer st.Close()
	return st.Save(ctx, runCtx.ID, res)
}

var (
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

func statusStyle(s result.Status) lipgloss.Style {
	switch s {
	case result.StatusPassed:
		return passStyle
	case result.StatusPartial:
		return partialStyle
	default:
		return failStyle
	}
}

func statusIcon(s result.Status) string {
	switch s {
	case result.StatusPassed:
		return "✓"
	case result.StatusPartial:
		return "~"
	default:
		return "✗"
	}
}

func printSummary(res *result.Specification) {
	fmt.Println()
	fmt.Println(headerStyle.Render(res.Feature.Name))

	for _, sc := range res.Scenarios {
		fmt.Printf("  %s %s\n", statusStyle(sc.Status).Render(statusIcon(sc.Status)), sc.Name)
		for _, st := range sc.Steps {
			line := fmt.Sprintf("    %s [%s] %s", statusIcon(st.Status), st.Phase, st.Description)
			if st.Status == result.StatusPassed {
				fmt.Println(dimStyle.Render(line))
			} else {
				fmt.Println(failStyle.Render(line))
				if st.Message != "" {
					fmt.Println(dimStyle.Render("        " + st.Message))
				}
			}
		}
	}

	fmt.Println()
	fmt.Printf("%s %s\n",
		headerStyle.Render("Status:"),
		statusStyle(res.Status).Render(strings.ToUpper(string(res.Status))))
	fmt.Printf("%s %d total, %d passed, %d failed (%s)\n",
		headerStyle.Render("Scenarios:"),
		res.Summary.Total, res.Summary.Passed, res.Summary.Failed, res.Summary.PassRate)
	if res.Error != "" {
		fmt.Printf("%s %s\n", failStyle.Render("Error:"), res.Error)
	}
	fmt.Printf("%s %s\n",
		headerStyle.Render("Duration:"),
		res.EndTime.Sub(res.StartTime).Round(10*time.Millisecond).String())
}
