package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/transfer"
)

func newFetchCmd(a *app) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "fetch [remote]",
		Short: "Download branches and tags from a remote",
		Args:  usage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			opts := transfer.FetchOptions{Prune: prune, Logger: a.logger}
			if len(args) > 0 {
				opts.Remote = args[0]
			}
			res, err := transfer.Fetch(cmd.Context(), r, opts)
			if err != nil {
				return err
			}
			printFetched(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&prune, "prune", "p", false, "delete tracking refs whose remote branch is gone")
	return cmd
}

func printFetched(cmd *cobra.Command, res *transfer.FetchResult) {
	out := cmd.OutOrStdout()
	for _, u := range res.Updated {
		if u.Old.IsNull() {
			fmt.Fprintf(out, " * [new]  %s -> %s\n", repo.ShortName(u.RemoteRef), repo.ShortName(u.Ref))
			continue
		}
		fmt.Fprintf(out, "   %s  %s -> %s\n", rangeOf(u.Old, u.New), repo.ShortName(u.RemoteRef), repo.ShortName(u.Ref))
	}
	for _, name := range res.Pruned {
		fmt.Fprintf(out, " - [deleted]  %s\n", repo.ShortName(name))
	}
	if res.Objects > 0 {
		fmt.Fprintf(out, "fetched %d objects from %s\n", res.Objects, res.Remote)
	}
}

func newPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull [remote] [branch]",
		Short: "Fetch and fast-forward a local branch",
		Args:  usage(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			opts := transfer.PullOptions{Logger: a.logger}
			if len(args) > 0 {
				opts.Remote = args[0]
			}
			if len(args) > 1 {
				opts.Branch = args[1]
			}
			res, err := transfer.Pull(cmd.Context(), r, opts)
			if err != nil {
				return err
			}
			printFetched(cmd, res.Fetch)
			out := cmd.OutOrStdout()
			switch {
			case !res.FastForward:
				fmt.Fprintf(out, "%s already up to date\n", repo.ShortName(res.Branch))
			case res.Old.IsNull():
				fmt.Fprintf(out, "created %s at %s\n", repo.ShortName(res.Branch), res.New.Short())
			default:
				fmt.Fprintf(out, "fast-forward %s %s\n", repo.ShortName(res.Branch), rangeOf(res.Old, res.New))
			}
			return nil
		},
	}
}
