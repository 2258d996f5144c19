package command

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hutaol/nethelper/internal/client"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// progressStep is the minimum number of bytes between two progress lines.
const progressStep = 256 << 10

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "upload a file as multipart/form-data",
		UsageText: "nethelper upload [options] URL FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "field",
				Usage: "form field name of the file",
				Value: "file",
			},
			&cli.StringFlag{
				Name:  "mime",
				Usage: "content type of the file part",
			},
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "extra form field as key=value",
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "gjson path applied to the JSON response",
			},
		},
		Action: uploadAction,
	}
}

func uploadAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return errors.New("expected URL and FILE arguments")
	}

	params, err := parseParams(cmd.StringSlice("param"))
	if err != nil {
		return err
	}

	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	errOut := cmd.Root().ErrWriter
	var fields any
	if len(params) > 0 {
		fields = params
	}

	ev := c.UploadFile(ctx, cmd.Args().Get(0), fields, cmd.String("field"), cmd.Args().Get(1),
		cmd.String("mime"), progressPrinter(errOut, "uploaded")).Wait()
	fmt.Fprintln(errOut)
	if ev.Err != nil {
		return ev.Err
	}

	return printPayload(cmd.Root().Writer, ev.Payload, cmd.String("query"))
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "download a URL to a file",
		UsageText: "nethelper download [options] URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "destination path, defaults to download.folder plus the URL file name",
			},
		},
		Action: downloadAction,
	}
}

func downloadAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("expected exactly one URL argument")
	}

	c, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	errOut := cmd.Root().ErrWriter
	ev := c.Download(ctx, cmd.Args().First(), cmd.String("output"), progressPrinter(errOut, "downloaded")).Wait()
	fmt.Fprintln(errOut)
	if ev.Err != nil {
		return ev.Err
	}

	_, err = fmt.Fprintln(cmd.Root().Writer, ev.Payload)
	return err
}

// progressPrinter reports transfer progress on w. It is called from a single goroutine.
func progressPrinter(w io.Writer, label string) client.ProgressFunc {
	var lastPrinted int64
	return func(completed, total int64) {
		if completed-lastPrinted < progressStep && completed != total {
			return
		}
		lastPrinted = completed
		if total > 0 {
			fmt.Fprintf(w, "\r%s %s / %s", label, humanize.Bytes(uint64(completed)), humanize.Bytes(uint64(total)))
			return
		}
		fmt.Fprintf(w, "\r%s %s", label, humanize.Bytes(uint64(completed)))
	}
}
