package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/transfer"
)

func newPushCmd(a *app) *cobra.Command {
	var (
		force bool
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "push [remote] [refspec...]",
		Short: "Update remote refs along with their history",
		Long: `Push sends the history of each refspec to the remote and updates the
remote ref. A refspec is [+]<local>[:<remote>]; ":<remote>" deletes the
remote ref and an empty refspec pushes the current branch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			opts := transfer.PushOptions{
				All:    all,
				Force:  force,
				Engine: transfer.Options{Logger: a.logger},
			}
			if len(args) > 0 {
				opts.Remote = args[0]
				opts.RefSpecs = args[1:]
			}
			out := cmd.OutOrStdout()
			deleted := false
			opts.OnRef = func(spec string, u *transfer.RefUpdate) {
				if u.State == transfer.StateCommitted && u.New.IsNull() {
					deleted = true
				}
				printPushed(out, u)
			}

			changed, err := transfer.Push(cmd.Context(), r, opts)
			if err != nil {
				return err
			}
			if !changed && !deleted {
				fmt.Fprintln(out, "everything up-to-date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "allow non-fast-forward updates")
	cmd.Flags().BoolVar(&all, "all", false, "push every local branch")
	return cmd
}

func printPushed(out io.Writer, u *transfer.RefUpdate) {
	switch {
	case u.State == transfer.StateFailed:
		return
	case u.State != transfer.StateCommitted:
		fmt.Fprintf(out, " = [up to date]      %s\n", u.Ref)
	case u.New.IsNull():
		fmt.Fprintf(out, " - [deleted]         %s\n", u.Ref)
	case u.Old.IsNull():
		fmt.Fprintf(out, " * [new ref]         %s -> %s (%d objects)\n", u.New.Short(), u.Ref, u.Objects)
	default:
		fmt.Fprintf(out, "   %s  %s (%d objects)\n", rangeOf(u.Old, u.New), u.Ref, u.Objects)
	}
}

func rangeOf(old, next object.ID) string {
	return old.Short() + ".." + next.Short()
}
