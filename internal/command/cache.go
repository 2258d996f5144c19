package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "manage the response cache",
		Commands: []*cli.Command{
			{
				Name:   "clear",
				Usage:  "remove every cached response",
				Action: cacheClearAction,
			},
		},
	}
}

func cacheClearAction(ctx context.Context, cmd *cli.Command) error {
	c, logger, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.ClearCache(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	logger.Infof("Cache cleared")
	return nil
}
