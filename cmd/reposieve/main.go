// Command reposieve drives one export/filter/import run: it spawns
// fast-export and fast-import, streams every record through the rule
// engine (path/blob/message/identity transforms, commit rewriting, tag
// reconciliation), and finalizes refs once both children exit.
//
// The command surface is grounded on the teacher's main() (only that:
// reposurgeon runs an entirely different interactive command loop by
// default, so this file borrows only its startup/shutdown shape, not
// its command language) and on spf13/cobra, which the teacher's own
// go.mod already pulls in transitively through kommandant; reposieve
// promotes it to reposieve's actual top-level CLI framework, per
// SPEC_FULL.md's domain-stack wiring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reposieve/reposieve/pkg/baton"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reposieve:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "reposieve",
		Short: "Rewrite a git history through a rule-driven fast-export/fast-import filter",
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newShellCommand())
	return root
}

func newBaton(quiet bool) *baton.Baton {
	interactive := !quiet
	return baton.New(nil, &interactive)
}
