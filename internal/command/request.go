package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hutaol/nethelper/internal/client"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v3"
)

func getCommand() *cli.Command {
	return requestCommand(http.MethodGet, "get", "issue a GET request")
}

func postCommand() *cli.Command {
	return requestCommand(http.MethodPost, "post", "issue a POST request")
}

func requestCommand(method, name, usage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		UsageText: "nethelper " + name + " [options] URL",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "request parameter as key=value, repeat a key to send a list",
			},
			&cli.BoolFlag{
				Name:  "cache",
				Usage: "print the cached payload first when present, then refresh it",
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "gjson path applied to the JSON payload",
			},
			&cli.StringFlag{
				Name:  "discriminator",
				Usage: "extra cache key component, overrides cache.additional",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return requestAction(ctx, cmd, method)
		},
	}
}

func requestAction(ctx context.Context, cmd *cli.Command, method string) error {
	if cmd.Args().Len() != 1 {
		return errors.New("expected exactly one URL argument")
	}

	params, err := parseParams(cmd.StringSlice("param"))
	if err != nil {
		return err
	}

	c, logger, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	req := client.Request{
		Method:        method,
		URL:           cmd.Args().First(),
		Cache:         cmd.Bool("cache"),
		Discriminator: cmd.String("discriminator"),
	}
	if len(params) > 0 {
		req.Params = params
	}

	out := cmd.Root().Writer
	query := cmd.String("query")

	liveDone := false
	var failure error
	for ev := range c.Do(ctx, req).Events() {
		switch ev.Kind {
		case client.EventCacheHit:
			if liveDone {
				logger.Debugf("Dropping cached payload that arrived after the live response")
				continue
			}
			logger.Infof("Using cached copy stored %s", humanize.Time(ev.StoredAt))
			if err := printPayload(out, ev.Payload, query); err != nil {
				return err
			}
		case client.EventLiveSuccess:
			liveDone = true
			if err := printPayload(out, ev.Payload, query); err != nil {
				return err
			}
		case client.EventLiveFailure:
			liveDone = true
			failure = ev.Err
		}
	}

	return failure
}

// parseParams turns key=value pairs into a parameter map. A repeated key
// becomes a list.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid parameter %q, empty key", pair)
		}

		switch existing := params[key].(type) {
		case nil:
			params[key] = value
		case string:
			params[key] = []any{existing, value}
		case []any:
			params[key] = append(existing, value)
		}
	}
	return params, nil
}

// printPayload writes payload as JSON, or the result of query against it.
func printPayload(w io.Writer, payload any, query string) error {
	var data []byte
	switch p := payload.(type) {
	case nil:
		return nil
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		encoded, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		data = encoded
	}

	if query != "" {
		if !gjson.ValidBytes(data) {
			return errors.New("payload is not JSON, cannot apply --query")
		}
		result := gjson.GetBytes(data, query)
		if !result.Exists() {
			return fmt.Errorf("query %q matched nothing", query)
		}
		_, err := fmt.Fprintln(w, result.String())
		return err
	}

	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
