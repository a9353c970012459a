package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pomelolab/pomelo/internal/spec"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Validate a specification file without running it",
	ArgsUsage: "<spec file>",
	Action:    validateAction,
}

func validateAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("this command takes one argument: <spec file>")
	}
	path := c.Args().First()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading specification: %w", err)
	}
	parsed, err := spec.Parse(data)
	if err != nil {
		return fmt.Errorf("invalid specification: %w", err)
	}

	steps := 0
	for _, sc := range parsed.Scenarios {
		steps += len(sc.Given) + len(sc.When) + len(sc.Then)
	}
	fmt.Printf("%s is valid\n", path)
	fmt.Printf("  feature:   %s\n", parsed.Feature.Name)
	fmt.Printf("  browser:   %s (headless: %t)\n", parsed.Configuration.Browser, parsed.Configuration.Headless)
	fmt.Printf("  scenarios: %d\n", len(parsed.Scenarios))
	fmt.Printf("  steps:     %d\n", steps)
	return nil
}
