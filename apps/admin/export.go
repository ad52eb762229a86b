package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/peereval/apps"
	"github.com/trezcool/peereval/apps/shared"
	"github.com/trezcool/peereval/core/evaluation"
)

// Export formats
const (
	formatAuto  = "auto"
	formatCSV   = "csv"
	formatTable = "table"
)

func (cli *commandLine) exportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the results table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.export(cmd, format, output)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatAuto, "csv, table, or auto (table on a terminal, csv otherwise)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func (cli *commandLine) export(cmd *cobra.Command, format, output string) error {
	switch format {
	case formatAuto, formatCSV, formatTable:
	default:
		return apps.NewArgumentError(fmt.Sprintf("unknown format %q", format))
	}

	crs, err := shared.LoadDomain(cli.conf)
	if err != nil {
		return err
	}
	results, err := openResultsFunc(cmd.Context(), cli.conf, crs, false /* migrate */)
	if err != nil {
		return err
	}
	defer func() { _ = results.Close() }()

	t, err := evaluation.NewService(results.Repo, crs, 0).Results(cmd.Context())
	if err != nil {
		return err
	}
	if t.IsEmpty() {
		t.Header = evaluation.Header(crs.Criteria)
	}

	w := cli.out
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return errors.Wrap(err, "creating output file")
		}
		defer func() { _ = f.Close() }()
		w = f
		if format == formatAuto {
			format = formatCSV
		}
	}
	if format == formatAuto {
		format = formatCSV
		if f, ok := w.(*os.File); ok && isTerminalFunc(int(f.Fd())) {
			format = formatTable
		}
	}

	if format == formatTable {
		return writeTable(w, t)
	}
	return writeCSV(w, t)
}

func writeCSV(w io.Writer, t evaluation.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	if err := cw.WriteAll(t.Records); err != nil {
		return errors.Wrap(err, "writing records")
	}
	return nil
}

func writeTable(w io.Writer, t evaluation.Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(t.Header, "\t"))
	for _, rec := range t.Records {
		_, _ = fmt.Fprintln(tw, strings.Join(rec, "\t"))
	}
	return tw.Flush()
}
