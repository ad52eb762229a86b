package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/peereval/apps"
	"github.com/trezcool/peereval/core"
	"github.com/trezcool/peereval/storage/database"
)

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose command (up, down, status, version, redo...) on the results database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.migrate(cmd, args)
		},
	}
}

func (cli *commandLine) migrate(cmd *cobra.Command, args []string) error {
	if cli.conf.Results.Backend != core.ResultsSQL {
		return apps.NewArgumentError("migrations only apply to the sql results backend (results.backend=" + core.ResultsSQL + ")")
	}
	db, err := database.Open(cmd.Context(), cli.conf)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err = database.Migrate(db, args[0], args[1:]...); err != nil {
		return errors.Wrap(err, args[0])
	}
	return nil
}
