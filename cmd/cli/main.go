package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

// env is shared by every command. The app is built on first use so that
// help output works without any backend.
type env struct {
	cfg *config.Config
	log zerolog.Logger
	app *app.App
}

func (e *env) open(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	e.log = logger.NewWithOptions(os.Stderr, e.cfg.Log)
	a, err := app.Build(ctx, e.cfg, e.log, nil)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

func (e *env) close() {
	if e.app != nil {
		if err := e.app.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Failed to close clients")
		}
	}
}

func main() {
	e := &env{
		cfg: config.Register(flag.CommandLine, os.Getenv),
		log: logger.New(),
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&processRecurrencesCmd{env: e}, "ledger")
	commander.Register(&accountsCmd{env: e}, "ledger")
	commander.Register(&createAccountCmd{env: e}, "ledger")
	commander.Register(&reconcileCmd{env: e}, "ledger")
	commander.Register(&exportCmd{env: e}, "export")
	commander.Register(&exportHistoryCmd{env: e}, "export")
	commander.Register(&exportFetchCmd{env: e}, "export")

	flag.Parse()
	status := commander.Execute(context.Background())
	e.close()
	os.Exit(int(status))
}
