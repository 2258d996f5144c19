// Package command wires the nethelper CLI.
package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hutaol/nethelper/internal/client"
	"github.com/hutaol/nethelper/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// NewApp builds the root command. Payloads go to stdout, progress and logs to stderr.
func NewApp(stdout, stderr io.Writer) *cli.Command {
	app := &cli.Command{
		Name:      "nethelper",
		Usage:     "HTTP client with a stale-while-revalidate response cache",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("NETHELPER_CONFIG"),
				),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level from the config",
			},
		},
		Commands: []*cli.Command{
			getCommand(),
			postCommand(),
			uploadCommand(),
			downloadCommand(),
			cacheCommand(),
		},
	}

	for _, cmd := range app.Commands {
		sort.Slice(cmd.Flags, func(i, j int) bool {
			return cmd.Flags[i].Names()[0] < cmd.Flags[j].Names()[0]
		})
	}

	return app
}

// Run executes the CLI and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	app := NewApp(os.Stdout, os.Stderr)
	if err := app.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// loadConfig reads --config, or the defaults when it is unset.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var cfg *config.Config
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger writes to the root command's error writer at the configured level.
func newLogger(cmd *cli.Command, cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.Root().ErrWriter)
	if level, err := cfg.GetLogLevel(); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// newClient loads the configuration and builds a client from it.
func newClient(cmd *cli.Command) (*client.Client, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cmd, cfg)

	c, err := client.New(cfg, client.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, logger, nil
}
