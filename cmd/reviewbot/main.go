package main

import (
	"context"
	"net/http"
	"time"

	"github.com/matrix-org/gomatrix"
	"github.com/rs/zerolog/log"
	"stealthcompany.com/snsreview/internal/archive"
	"stealthcompany.com/snsreview/internal/config"
	"stealthcompany.com/snsreview/internal/formlink"
	"stealthcompany.com/snsreview/internal/matrix"
	"stealthcompany.com/snsreview/internal/metrics"
	"stealthcompany.com/snsreview/internal/orchestrator"
	"stealthcompany.com/snsreview/internal/publish"
	"stealthcompany.com/snsreview/internal/render"
	"stealthcompany.com/snsreview/internal/review"
	"stealthcompany.com/snsreview/internal/reviewer"
	"stealthcompany.com/snsreview/internal/web"
	"stealthcompany.com/snsreview/pkg/zerolog_config"
)

const (
	matrixTimeout   = 45 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	zerolog_config.SetAppPrefix("reviewbot")
	if err := zerolog_config.StartupWithEnv(cfg.ElasticsearchURL, "reviewbot-logs", cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logging")
	}

	log.Info().
		Str("mode", cfg.Mode).
		Int("required_approvals", cfg.RequiredApprovals).
		Dur("grace_period", cfg.GracePeriod).
		Strs("platforms", cfg.Platforms()).
		Msg("Starting reviewbot")

	if !cfg.MatrixEnabled() {
		log.Fatal().Msg("MATRIX_HOMESERVER, MATRIX_USER_ID and MATRIX_ACCESS_TOKEN are required")
	}

	cli, err := matrix.NewClient(cfg.MatrixHomeserver, cfg.MatrixUserID, cfg.MatrixAccessToken, matrixTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create matrix client")
	}
	gateway := matrix.NewGateway(cli, render.Keys{Approve: cfg.ApproveReactions, Reject: cfg.RejectReactions})

	signer, err := formlink.NewSigner(cfg.FormSecret, cfg.FormLinkTTL, time.Now)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid FORM_SECRET")
	}

	deps := review.Deps{
		Directory: reviewer.NewDirectory(cfg.ReviewerIDs...),
		Resolver:  reviewer.NewResolver(gateway),
		Gateway:   gateway,
		Publisher: newPublisher(cfg),
	}

	if cfg.CouchbaseURL != "" {
		store, err := archive.Connect(cfg.CouchbaseURL, cfg.CouchbaseUsername, cfg.CouchbasePassword, cfg.CouchbaseBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to archive")
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close archive")
			}
		}()
		deps.Sink = store
	}

	svc, err := review.NewService(review.Config{
		RequiredApprovals: cfg.RequiredApprovals,
		GracePeriod:       cfg.GracePeriod,
		ApproveKeys:       cfg.ApproveReactions,
		RejectKeys:        cfg.RejectReactions,
		ReviewersOnly:     cfg.ReviewersOnly,
		Accounts:          cfg.Accounts,
	}, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create review service")
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := orchestrator.NewSignalHandler()
	defer signals.Stop()
	signals.HandleSignals(ctx, cancel)

	if cfg.EnableSystemMetrics {
		if err := metrics.StartSystemMetrics(ctx, cfg.MetricsSchedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to start system metrics")
		}
	}

	runner := orchestrator.NewRunner()

	if cfg.RunChat() {
		syncer, ok := cli.Syncer.(*gomatrix.DefaultSyncer)
		if !ok {
			log.Fatal().Msg("Unexpected matrix syncer")
		}
		listener := matrix.NewListener(svc, gateway, signer, cfg.BaseURL, cfg.MatrixUserID, time.Now())
		listener.Register(ctx, syncer)
		runner.Add("matrix", func(ctx context.Context) error {
			return matrix.RunSync(ctx, cli)
		})
	}

	if cfg.RunWeb() {
		server := web.NewServer(svc, signer, gateway, cfg.Accounts)
		srv := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           server.SetupRoutes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		runner.Add("web", orchestrator.HTTPServer(srv, shutdownTimeout))
	}

	if err := runner.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Reviewbot stopped with error")
		return
	}
	log.Info().Msg("Reviewbot stopped")
}

func newPublisher(cfg *config.Config) review.Publisher {
	var next review.Publisher = publish.LogPublisher{}
	if cfg.PublishWebhookURL != "" {
		next = publish.NewWebhookPublisher(cfg.PublishWebhookURL, cfg.PublishTimeout)
	}
	return publish.NewBreaker(next, 5, time.Minute)
}
