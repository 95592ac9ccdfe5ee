package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

func newLogCmd(a *app) *cobra.Command {
	var (
		oneline bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "log [revision]",
		Short: "Show first-parent commit history",
		Args:  usage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			var start object.ID
			if len(args) > 0 {
				start, err = r.ResolveRevision(args[0])
			} else {
				start, err = r.HeadCommit()
				if status.Is(err, status.NotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "no commits yet")
					return nil
				}
			}
			if err != nil {
				return err
			}
			start, err = r.PeelToCommit(start)
			if err != nil {
				return err
			}

			commits, ids, err := r.Log(start, limit)
			if err != nil {
				return err
			}

			headID, _ := r.HeadCommit()
			branch := ""
			if current, err := r.CurrentBranch(); err == nil {
				branch = repo.ShortName(current)
			}

			out := cmd.OutOrStdout()
			for i, c := range commits {
				decoration := buildDecoration(ids[i], headID, branch)
				if oneline {
					if decoration != "" {
						fmt.Fprintf(out, "%s %s %s\n", ids[i].Short(), decoration, firstLine(c.Message))
					} else {
						fmt.Fprintf(out, "%s %s\n", ids[i].Short(), firstLine(c.Message))
					}
					continue
				}
				if decoration != "" {
					fmt.Fprintf(out, "commit %s %s\n", ids[i], decoration)
				} else {
					fmt.Fprintf(out, "commit %s\n", ids[i])
				}
				if len(c.Parents) > 1 {
					fmt.Fprint(out, "Merge:")
					for _, p := range c.Parents {
						fmt.Fprintf(out, " %s", p.Short())
					}
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "Author: %s <%s>\n", c.Author.Name, c.Author.Email)
				fmt.Fprintf(out, "Date:   %s\n", formatTime(c.Author))
				fmt.Fprintln(out)
				fmt.Fprintf(out, "    %s\n", c.Message)
				fmt.Fprintln(out)
			}
			if n := len(commits); n > 0 && (limit <= 0 || n < limit) {
				last := commits[n-1]
				if len(last.Parents) > 0 && !r.Objects.Has(last.Parents[0]) {
					fmt.Fprintln(out, "(history truncated: shallow repository)")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits to show (0 = all)")
	return cmd
}

// buildDecoration returns "(HEAD -> branch)" for the HEAD commit.
func buildDecoration(id, head object.ID, branch string) string {
	if id != head {
		return ""
	}
	if branch != "" {
		return "(HEAD -> " + branch + ")"
	}
	return "(HEAD)"
}

func formatTime(p object.Person) string {
	loc := time.FixedZone("", int(p.TimeZoneOffset/1000))
	return time.UnixMilli(p.Timestamp).In(loc).Format("2006-01-02 15:04:05 -0700")
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

func newReflogCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reflog [ref]",
		Short: "Show the update history of a ref",
		Args:  usage(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			name := ""
			if len(args) > 0 {
				name = args[0]
			} else if name, err = r.CurrentBranch(); err != nil {
				return err
			}
			if name != repo.HEAD && !strings.HasPrefix(name, repo.RefsPrefix) {
				name = repo.BranchPrefix + name
			}
			entries, err := r.Refs.ReadReflog(name, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s %s -> %s %s\n",
					time.Unix(e.Timestamp, 0).Format("2006-01-02 15:04:05"), e.OldID.Short(), e.NewID.Short(), e.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries to show (0 = all)")
	return cmd
}
