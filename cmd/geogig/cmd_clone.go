package main

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
	"github.com/lkjx77/GeoGig/pkg/transfer"
)

func newCloneCmd(a *app) *cobra.Command {
	var (
		branch string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "clone <url> [path]",
		Short: "Copy a remote repository into a new directory",
		Args:  usage(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			dst := ""
			if len(args) > 1 {
				dst = args[1]
			} else {
				dst = cloneDirName(src)
				if dst == "" {
					return status.Errorf(status.InvalidArgument, "cannot derive a directory name from %q", src)
				}
			}
			if !filepath.IsAbs(dst) {
				dst = filepath.Join(a.dir, dst)
			}
			if !strings.Contains(src, "://") && !filepath.IsAbs(src) {
				src = filepath.Join(a.dir, src)
			}

			r, err := transfer.Clone(cmd.Context(), src, dst, transfer.CloneOptions{
				Branch: branch,
				Depth:  depth,
				Logger: a.logger,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cloned into %s\n", dst)
			if current, err := r.CurrentBranch(); err == nil {
				if _, err := r.HeadCommit(); err != nil {
					fmt.Fprintln(out, "warning: cloned an empty repository")
				} else {
					fmt.Fprintf(out, "checked out %s\n", repo.ShortName(current))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to check out instead of the remote HEAD")
	cmd.Flags().IntVar(&depth, "depth", 0, "keep only this many commits of history (0 = full)")
	return cmd
}

// cloneDirName derives a directory name from a remote URL or path.
func cloneDirName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		p = u.Path
	}
	p = strings.TrimRight(filepath.ToSlash(p), "/")
	p = strings.TrimSuffix(p, "/"+repo.DirName)
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	return strings.TrimSuffix(name, ".geogig")
}
