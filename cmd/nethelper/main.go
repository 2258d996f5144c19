package main

import (
	"context"
	"os"

	"github.com/hutaol/nethelper/internal/command"
)

func main() {
	os.Exit(command.Run(context.Background(), os.Args))
}
