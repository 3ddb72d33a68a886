package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/client"
	"github.com/git-pkgs/comfyregistry/fetch"
	"github.com/git-pkgs/comfyregistry/internal/analytics"
	"github.com/git-pkgs/comfyregistry/internal/claim"
	"github.com/git-pkgs/comfyregistry/internal/server"
)

func createServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Serve hosts the GitHub ownership claim flow, node compatibility
reports and archive downloads, plus /healthz and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracker, closeTracker := a.tracker()
	defer closeTracker()

	github := claim.NewGitHub(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, client.NewClient(client.WithMaxRetries(2)))
	github.CallbackURL = cfg.CallbackURL()
	github.Scope = cfg.GitHub.Scope
	if cfg.GitHub.APIURL != "" {
		github.APIBaseURL = cfg.GitHub.APIURL
	}
	if !github.Configured() {
		logger.Warn("GitHub OAuth credentials are not set; claim callbacks will fail")
	}

	fetcher := fetch.NewFetcher(fetch.WithMaxRetries(cfg.Fetch.MaxRetries))
	go client.RefreshDNS(ctx, fetcher.Resolver(), cfg.Fetch.DNSRefresh)
	breakers := fetch.NewCircuitBreakerFetcher(fetcher).WithThreshold(cfg.Fetch.BreakerThreshold)

	reg := a.registry(false)
	srv := server.New(server.Options{
		Nodes:      reg,
		Resolver:   fetch.NewResolver(reg),
		Downloader: breakers,
		Breakers:   breakers,
		Authorize:  claim.NewInitiator(github, logger),
		Callback:   claim.NewHandler(github, tracker, logger, claim.NewMetrics(promReg)),
		Logger:     logger,
		Registry:   promReg,
	})

	return server.Run(ctx, cfg.Server.Addr, srv.Handler(), cfg.Server.ReadHeaderTimeout, cfg.Server.ShutdownTimeout, logger)
}

// tracker returns the analytics sink and a func that drains it.
func (a *app) tracker() (analytics.Tracker, func()) {
	if a.cfg.Analytics.Token == "" {
		return analytics.NewLogTracker(a.logger), func() {}
	}

	sink := analytics.NewSink(a.cfg.Analytics.Token, client.NewClient(client.WithMaxRetries(1)), a.logger,
		analytics.WithEndpoint(a.cfg.Analytics.Endpoint),
		analytics.WithQueueSize(a.cfg.Analytics.QueueSize),
	)
	return sink, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Close(ctx); err != nil {
			a.logger.Warn("analytics events not flushed", zap.Error(err))
		}
		if n := sink.Dropped(); n > 0 {
			a.logger.Warn("analytics events dropped", zap.Int64("count", n))
		}
	}
}
