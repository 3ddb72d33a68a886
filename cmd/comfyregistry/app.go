package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/client"
	"github.com/git-pkgs/comfyregistry/internal/config"
	"github.com/git-pkgs/comfyregistry/internal/logging"
	"github.com/git-pkgs/comfyregistry/internal/registry"
)

// app carries state shared by the subcommands. It is populated by the root
// command's PersistentPreRunE.
type app struct {
	getenv func(string) string
	flags  config.Flags

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCommand(getenv func(string) string) *cobra.Command {
	a := &app{getenv: getenv}

	root := &cobra.Command{
		Use:           "comfyregistry",
		Short:         "ComfyUI node registry companion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	a.flags.Register(root.PersistentFlags())

	root.AddCommand(
		createServeCommand(a),
		createOutdatedCommand(a),
		createReconcileCommand(a),
		createDownloadCommand(a),
		createClaimURLCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.flags.Resolve(cmd.Flags(), a.getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// httpClient builds a Registry API client. Admin commands pass withToken.
func (a *app) httpClient(withToken bool, opts ...client.Option) *client.Client {
	opts = append([]client.Option{
		client.WithTimeout(a.cfg.Registry.Timeout),
		client.WithMaxRetries(a.cfg.Registry.MaxRetries),
	}, opts...)
	if withToken && a.cfg.Registry.Token != "" {
		opts = append(opts, client.WithToken(a.cfg.Registry.Token))
	}
	return client.NewClient(opts...)
}

func (a *app) registry(withToken bool, opts ...client.Option) *registry.Registry {
	return registry.New(a.cfg.Registry.URL, a.httpClient(withToken, opts...)).WithSiteURL(a.cfg.Registry.SiteURL)
}
