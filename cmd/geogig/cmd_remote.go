package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/status"
)

func newRemoteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage repository remotes",
		Args:  usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			remotes, err := r.Remotes()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rm := range remotes {
				fmt.Fprintf(out, "%s\t%s (fetch)\n", rm.Name, rm.FetchURL)
				fmt.Fprintf(out, "%s\t%s (push)\n", rm.Name, rm.PushURL)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a named remote",
		Args:  usage(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			if _, err := r.Remote(args[0]); err == nil {
				return status.Errorf(status.Conflict, "remote %q already exists", args[0])
			} else if !status.Is(err, status.NotFound) {
				return err
			}
			if err := r.SetRemote(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added remote %q -> %s\n", args[0], args[1])
			return nil
		},
	})

	var push bool
	setURL := &cobra.Command{
		Use:   "set-url <name> <url>",
		Short: "Update a named remote URL",
		Args:  usage(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			if push {
				err = r.SetPushURL(args[0], args[1])
			} else {
				if _, err := r.Remote(args[0]); err != nil {
					return err
				}
				err = r.SetRemote(args[0], args[1])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated remote %q -> %s\n", args[0], args[1])
			return nil
		},
	}
	setURL.Flags().BoolVar(&push, "push", false, "set the push URL only")
	cmd.AddCommand(setURL)

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a remote and its tracking refs",
		Args:    usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			if err := r.RemoveRemote(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed remote %q\n", args[0])
			return nil
		},
	})

	return cmd
}
