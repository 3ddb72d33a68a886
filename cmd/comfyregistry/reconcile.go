package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/comfyregistry/internal/review"
)

var errNoToken = errors.New("reconcile needs an admin token: set COMFY_REGISTRY_TOKEN or pass --token")

func createReconcileCommand(a *app) *cobra.Command {
	var (
		f     scanFlags
		apply bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Copy latest-version compatibility onto outdated nodes",
		Long: `Reconcile scans for outdated nodes and updates each node's
compatibility fields to match its latest version. Without --apply it only
reports what would change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			if apply && a.cfg.Registry.Token == "" {
				return errNoToken
			}

			scanner := review.NewScanner(a.registry(true), a.logger).WithConcurrency(f.concurrency)
			findings, err := scanner.Outdated(cmd.Context(), f.options())
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "All nodes are up to date.")
				return err
			}

			res, err := scanner.Reconcile(cmd.Context(), findings, !apply)
			if err != nil {
				return err
			}
			if err := writeResult(cmd.OutOrStdout(), res, f.format); err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d node(s) failed to update", len(res.Failed))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&apply, "apply", false, "write the updates (default is a dry run)")
	return cmd
}

func writeResult(w io.Writer, res *review.Result, format string) error {
	if strings.ToLower(format) == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	verb := "Updated"
	if res.DryRun {
		verb = "Would update"
	}
	if _, err := fmt.Fprintf(w, "Batch %s\n", res.BatchID); err != nil {
		return err
	}
	for _, id := range res.Updated {
		_, _ = fmt.Fprintf(w, "  %s %s\n", verb, id)
	}
	for id, msg := range res.Failed {
		_, _ = fmt.Fprintf(w, "  Failed %s: %s\n", id, msg)
	}
	_, err := fmt.Fprintf(w, "%s %d node(s), %d failed\n", verb, len(res.Updated), len(res.Failed))
	return err
}
