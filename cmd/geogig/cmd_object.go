package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

func newCatObjectCmd(a *app) *cobra.Command {
	var (
		showType bool
		raw      bool
	)
	cmd := &cobra.Command{
		Use:   "cat-object <id|revision>",
		Short: "Print a stored object",
		Args:  usage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			id, err := r.ResolveRevision(args[0])
			if err != nil {
				return err
			}
			rec, err := r.Objects.GetRecord(id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case showType:
				fmt.Fprintln(out, rec.Type)
				return nil
			case raw:
				_, err := out.Write(rec.Data)
				return err
			}
			obj, err := object.VerifyRecord(rec)
			if err != nil {
				return err
			}
			body, err := json.MarshalIndent(obj, "", "  ")
			if err != nil {
				return fmt.Errorf("render %s: %w", id.Short(), err)
			}
			fmt.Fprintf(out, "%s %s (format v%d)\n%s\n", rec.Type, id, rec.Data[0], body)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showType, "type", "t", false, "print only the object type")
	cmd.Flags().BoolVar(&raw, "raw", false, "write the stored encoding")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Decode and rehash every stored object",
		Args:  usage(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			report, err := object.Verify(r.Objects)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			types := make([]object.Type, 0, len(report.ByType))
			for t := range report.ByType {
				types = append(types, t)
			}
			sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
			for _, t := range types {
				fmt.Fprintf(out, "%-12s %d\n", t, report.ByType[t])
			}
			if report.V1 > 0 {
				fmt.Fprintf(out, "%d objects use the legacy v1 format\n", report.V1)
			}
			for _, p := range report.Problems {
				fmt.Fprintf(out, "bad: %s: %v\n", p.ID, p.Err)
			}
			if n := len(report.Problems); n > 0 {
				return status.Errorf(status.MalformedObject, "%d of %d objects failed verification", n, report.Objects)
			}
			fmt.Fprintf(out, "ok: verified %d objects\n", report.Objects)
			return nil
		},
	}
}
