// Command planner configures, validates and serves option-selling trade plans.
package main

import (
	"fmt"
	"os"

	"option-planner/internal/cli"
	"option-planner/internal/logging"
)

func main() {
	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:   "warn",
		Console: true,
	})

	app := cli.NewApp(logger)
	if err := cli.NewRootCmd(app).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
