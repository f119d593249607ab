// Command pmdash-admin edits accounts directly in the configured store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/pmdash/internal/admin"
	"github.com/dmitrijs2005/pmdash/internal/logging"
	"github.com/dmitrijs2005/pmdash/internal/server/config"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, admin.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		return admin.NewApp(nil, os.Stdout).Run(ctx, args)
	}

	cfg, err := config.LoadConfig(args)
	if err != nil {
		return err
	}
	logger := logging.NewJSON(os.Stderr, cfg.LogLevel)

	svc, closeFn, err := admin.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	return admin.NewApp(svc, os.Stdout).Run(ctx, args)
}
