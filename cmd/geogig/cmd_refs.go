package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

func newShowRefCmd(a *app) *cobra.Command {
	var head bool
	cmd := &cobra.Command{
		Use:   "show-ref [prefix]",
		Short: "List refs with the ids they point at",
		Args:  usage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			prefix := repo.RefsPrefix
			if len(args) > 0 {
				prefix = args[0]
			}
			out := cmd.OutOrStdout()
			if head {
				if ref, err := r.Refs.Resolve(repo.HEAD); err == nil {
					fmt.Fprintf(out, "%s %s\n", ref.ID, repo.HEAD)
				}
			}
			refs, err := r.Refs.List(prefix)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				if ref.IsSymbolic() {
					resolved, err := r.Refs.Resolve(ref.Name)
					if err != nil {
						continue
					}
					ref.ID = resolved.ID
				}
				fmt.Fprintf(out, "%s %s\n", ref.ID, ref.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&head, "head", false, "include HEAD")
	return cmd
}

func newBranchCmd(a *app) *cobra.Command {
	var (
		deleteBranch string
		checkout     bool
	)
	cmd := &cobra.Command{
		Use:   "branch [name [start]]",
		Short: "List, create, or delete branches",
		Args:  usage(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if deleteBranch != "" {
				if err := r.DeleteBranch(deleteBranch); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted branch %s\n", deleteBranch)
				return nil
			}

			if len(args) > 0 {
				var start object.ID
				if len(args) > 1 {
					start, err = r.ResolveRevision(args[1])
				} else {
					start, err = r.HeadCommit()
				}
				if err != nil {
					return err
				}
				if start, err = r.PeelToCommit(start); err != nil {
					return err
				}
				if err := r.CreateBranch(args[0], start); err != nil {
					return err
				}
				if checkout {
					if err := r.Checkout(args[0]); err != nil {
						return err
					}
				}
				fmt.Fprintf(out, "created branch %s at %s\n", args[0], start.Short())
				return nil
			}

			branches, err := r.ListBranches()
			if err != nil {
				return err
			}
			current, _ := r.CurrentBranch()
			for _, b := range branches {
				marker := " "
				if b.Name == current {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s %s\n", marker, repo.ShortName(b.Name), b.ID.Short())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&deleteBranch, "delete", "d", "", "delete the named branch")
	cmd.Flags().BoolVar(&checkout, "checkout", false, "point HEAD at the new branch")
	cmd.AddCommand(&cobra.Command{
		Use:   "checkout <name>",
		Short: "Point HEAD at an existing branch",
		Args:  usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			if err := r.Checkout(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newTagCmd(a *app) *cobra.Command {
	var (
		deleteTag string
		message   string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "tag [name [commit]]",
		Short: "List, create, or delete annotated tags",
		Args:  usage(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if deleteTag != "" {
				if err := r.DeleteTag(deleteTag); err != nil {
					return err
				}
				fmt.Fprintf(out, "deleted tag %s\n", deleteTag)
				return nil
			}

			if len(args) > 0 {
				var target object.ID
				if len(args) > 1 {
					target, err = r.ResolveRevision(args[1])
				} else {
					target, err = r.HeadCommit()
				}
				if err != nil {
					return err
				}
				if target, err = r.PeelToCommit(target); err != nil {
					return err
				}
				id, err := r.CreateTag(args[0], target, message, object.Person{}, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "tagged %s as %s (%s)\n", target.Short(), args[0], id.Short())
				return nil
			}

			tags, err := r.ListTags()
			if err != nil {
				return err
			}
			for _, t := range tags {
				commit, err := r.PeelToCommit(t.ID)
				if err != nil && !status.Is(err, status.NotFound) {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", repo.ShortName(t.Name), commit.Short())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&deleteTag, "delete", "d", "", "delete the named tag")
	cmd.Flags().StringVarP(&message, "message", "m", "", "tag message")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing tag")
	return cmd
}
