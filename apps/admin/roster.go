package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/trezcool/peereval/core/roster"
)

func (cli *commandLine) rosterCmd() *cobra.Command {
	var showStudents bool
	cmd := &cobra.Command{
		Use:   "roster [FILE]",
		Short: "Check a roster file (defaults to roster.file) and summarize its groups",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cli.conf.Roster.File
			if len(args) > 0 {
				path = args[0]
			}
			return cli.checkRoster(path, showStudents)
		},
	}
	cmd.Flags().BoolVarP(&showStudents, "students", "s", false, "list every student")
	return cmd
}

func (cli *commandLine) checkRoster(path string, showStudents bool) error {
	r, err := roster.LoadFile(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "%s: %d students in %d groups\n", path, r.Len(), len(r.Groups()))
	for _, g := range r.Groups() {
		members := r.GroupMembers(g)
		_, _ = fmt.Fprintf(w, "Group %s\t%d\n", g, len(members))
		if showStudents {
			for _, s := range members {
				_, _ = fmt.Fprintf(w, "\t%s\t%s\t%s\n", s.ID, s.Name, s.Email)
			}
		}
	}
	return w.Flush()
}
