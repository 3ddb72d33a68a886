package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/comfyregistry/internal/claim"
	"github.com/git-pkgs/comfyregistry/internal/config"
)

func createClaimURLCommand(a *app) *cobra.Command {
	var s claim.State
	cmd := &cobra.Command{
		Use:   "claim-url",
		Short: "Print the GitHub authorize URL that starts a node claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !s.Complete() {
				return errors.New("--node, --publisher, --repo and --redirect-uri are required")
			}
			if a.cfg.GitHub.ClientID == "" {
				return fmt.Errorf("GitHub client id is not set (%s)", config.EnvGitHubClientID)
			}

			g := claim.NewGitHub(a.cfg.GitHub.ClientID, a.cfg.GitHub.ClientSecret, nil)
			g.CallbackURL = a.cfg.CallbackURL()
			g.Scope = a.cfg.GitHub.Scope

			_, err := fmt.Fprintln(cmd.OutOrStdout(), g.AuthorizeURL(claim.EncodeState(s)))
			return err
		},
	}
	cmd.Flags().StringVar(&s.NodeID, "node", "", "node id")
	cmd.Flags().StringVar(&s.PublisherID, "publisher", "", "publisher id")
	cmd.Flags().StringVar(&s.Repo, "repo", "", "repository as owner/name")
	cmd.Flags().StringVar(&s.RedirectURI, "redirect-uri", "", "where to send the user after the callback")
	return cmd
}
