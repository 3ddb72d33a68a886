package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/comfyregistry/internal/review"
)

type scanFlags struct {
	nodes           []string
	pageSize        int
	maxPages        int
	includeInactive bool
	concurrency     int
	format          string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.nodes, "node", "n", nil, "only check these node ids (repeatable)")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 100, "nodes per listing page")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "stop after this many pages (0 for all)")
	cmd.Flags().BoolVar(&f.includeInactive, "include-inactive", false, "include banned and deleted nodes")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 5, "parallel registry requests")
	cmd.Flags().StringVar(&f.format, "format", "text", "output format: text or json")
}

func (f *scanFlags) options() review.Options {
	return review.Options{
		NodeIDs:         f.nodes,
		PageSize:        f.pageSize,
		MaxPages:        f.maxPages,
		IncludeInactive: f.includeInactive,
	}
}

func (f *scanFlags) validate() error {
	switch strings.ToLower(f.format) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown format %q", f.format)
	}
}

func createOutdatedCommand(a *app) *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "outdated",
		Short: "List nodes whose compatibility differs from their latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			scanner := review.NewScanner(a.registry(false), a.logger).WithConcurrency(f.concurrency)
			findings, err := scanner.Outdated(cmd.Context(), f.options())
			if err != nil {
				return err
			}
			return writeFindings(cmd.OutOrStdout(), findings, f.format)
		},
	}
	f.register(cmd)
	return cmd
}

func writeFindings(w io.Writer, findings []review.Finding, format string) error {
	if strings.ToLower(format) == "json" {
		if findings == nil {
			findings = []review.Finding{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(findings)
	}

	if len(findings) == 0 {
		_, err := fmt.Fprintln(w, "All nodes are up to date.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NODE\tLATEST\tFIELD\tNODE VALUE\tLATEST VALUE\tLICENSE")
	for _, f := range findings {
		license := "ok"
		if !f.License.Valid {
			license = "unknown"
			if len(f.License.Invalid) > 0 {
				license = "invalid"
			}
		}
		for i, m := range f.Mismatches {
			node, version, lic := f.NodeID, f.Version, license
			if i > 0 {
				node, version, lic = "", "", ""
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", node, version, m.Field, m.Node, m.Latest, lic)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d outdated node(s)\n", len(findings))
	return err
}
