package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/peereval/apps/shared"
	"github.com/trezcool/peereval/core"
)

var (
	isTerminalFunc  = term.IsTerminal  // mockable
	openResultsFunc = shared.OpenResults // mockable
)

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	out    io.Writer
}

func newCommandLine(conf *core.Config, logger core.Logger, out io.Writer) *commandLine {
	return &commandLine{conf: conf, logger: logger, out: out}
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Peer evaluation operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	root.AddCommand(
		cli.migrateCmd(),
		cli.rosterCmd(),
		cli.exportCmd(),
		cli.sendTestCmd(),
	)
	return root
}

// run executes the command line `args` (without the program name).
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}
