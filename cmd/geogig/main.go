package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

const version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code derived
// from the error category.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "geogig: %v\n", err)
	return status.Of(err).ExitCode()
}

// app holds the global flags shared by every subcommand.
type app struct {
	dir     string
	verbose bool
	logger  *slog.Logger
}

func (a *app) open() (*repo.Repo, error) {
	return repo.OpenAt(a.dir, repo.Options{Logger: a.logger})
}

func newRootCmd() *cobra.Command {
	a := &app{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	root := &cobra.Command{
		Use:           "geogig",
		Short:         "Distributed version control for geospatial data",
		Args:          usage(cobra.NoArgs),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}
	root.PersistentFlags().StringVarP(&a.dir, "repo", "C", ".", "run as if started in this directory")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug detail to stderr")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return status.Errorf(status.InvalidArgument, "%v", err)
	})

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newRemoteCmd(a))
	root.AddCommand(newPushCmd(a))
	root.AddCommand(newFetchCmd(a))
	root.AddCommand(newPullCmd(a))
	root.AddCommand(newCloneCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newLogCmd(a))
	root.AddCommand(newReflogCmd(a))
	root.AddCommand(newShowRefCmd(a))
	root.AddCommand(newBranchCmd(a))
	root.AddCommand(newTagCmd(a))
	root.AddCommand(newCatObjectCmd(a))
	root.AddCommand(newVerifyCmd(a))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  usage(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "geogig "+version)
		},
	}
}

// usage turns positional argument errors into INVALID_ARGUMENT.
func usage(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return status.Errorf(status.InvalidArgument, "%v", err)
		}
		return nil
	}
}
