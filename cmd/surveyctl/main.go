package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/client/cli"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
)

func main() {
	own, rest := config.Split(os.Args[1:])

	cfg, err := config.LoadConfig(own)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	ctx := context.Background()
	if err := cli.Execute(ctx, cfg, rest, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
