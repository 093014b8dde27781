package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func step(use, short string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return step("test", "Run unit tests (simulated engine, no hardware)", test.Test)
}

func LintCmd() *cobra.Command {
	return step("lint", "Run linters", test.Lint)
}

// IntegrationTestCmd runs the tests that need a sensor on the bench.
func IntegrationTestCmd() *cobra.Command {
	return step("integration-test", "Run integration tests against attached hardware", test.Integ)
}
