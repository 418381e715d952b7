package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ipfs-publish/adapter"
	"github.com/pithecene-io/ipfs-publish/adapter/redis"
	"github.com/pithecene-io/ipfs-publish/adapter/webhook"
	"github.com/pithecene-io/ipfs-publish/archive"
	"github.com/pithecene-io/ipfs-publish/cli/config"
	"github.com/pithecene-io/ipfs-publish/intake"
	"github.com/pithecene-io/ipfs-publish/log"
	"github.com/pithecene-io/ipfs-publish/metrics"
	"github.com/pithecene-io/ipfs-publish/publisher"
	"github.com/pithecene-io/ipfs-publish/render"
	"github.com/pithecene-io/ipfs-publish/server"
	"github.com/pithecene-io/ipfs-publish/workspace"
)

// Notifier types.
const (
	notifyWebhook = "webhook"
	notifyRedis   = "redis"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the upload service",
		Flags:  SettingsFlags(),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}

	logger := log.NewLogger(log.Options{Debug: settings.Debug, Output: c.App.ErrWriter})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	srv, err := buildServer(ctx, settings, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}

	listener, err := net.Listen("tcp", settings.Addr())
	if err != nil {
		_ = srv.Close()
		return cli.Exit(fmt.Sprintf("listen on %s: %v", settings.Addr(), err), exitServeError)
	}

	logger.Info("ipfs-publish starting", map[string]any{
		"address":   listener.Addr().String(),
		"temp_root": settings.TempRoot,
		"ipfs_bin":  settings.IPFSBin,
		"retention": string(settings.Retention),
		"archive":   settings.Archive.Backend,
		"notify":    settings.Notify.Type,
	})

	serveErr := srv.Serve(ctx, listener)
	closeErr := srv.Close()

	logger.Info("ipfs-publish stopped", collector.Snapshot().Fields())

	if err := errors.Join(serveErr, closeErr); err != nil {
		return cli.Exit(err.Error(), exitServeError)
	}
	return nil
}

// buildServer wires the request pipeline from resolved settings.
func buildServer(ctx context.Context, s config.Settings, logger *log.Logger, collector *metrics.Collector) (*server.Server, error) {
	workspaces, err := workspace.NewManager(workspace.Config{
		TempRoot:       s.TempRoot,
		Retention:      s.Retention,
		RetentionDelay: s.RetentionDelay,
	}, logger, collector)
	if err != nil {
		return nil, err
	}

	deps := server.Deps{
		Workspaces: workspaces,
		Intake:     intake.New(nil, intake.Config{MaxBodyBytes: s.MaxBodyBytes}),
		Publisher:  publisher.New(publisher.Config{Bin: s.IPFSBin, Timeout: s.PublishTimeout}, nil, logger),
		Renderer:   render.New(render.Config{SiteTitle: s.SiteTitle, GatewayHost: s.GatewayHost}),
		Logger:     logger,
		Collector:  collector,
	}

	if s.Archive.Backend != "" {
		factory, err := archive.NewFactory(ctx, archive.Config{
			Backend:     s.Archive.Backend,
			Path:        s.Archive.Path,
			Region:      s.Archive.Region,
			Endpoint:    s.Archive.Endpoint,
			S3PathStyle: s.Archive.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		deps.Archiver = archive.New(factory, logger, collector)
	}

	notifier, err := buildNotifier(s.Notify)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		deps.Notifier = notifier
	}

	return server.New(server.Config{GatewayHost: s.GatewayHost}, deps)
}

// buildNotifier returns nil when no notifier is configured.
func buildNotifier(cfg config.NotifyConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case notifyWebhook:
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: durationOr(cfg.Timeout, webhook.DefaultTimeout),
			Retries: retries,
		})
	case notifyRedis:
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Stream:  cfg.Stream,
			MaxLen:  cfg.MaxLen,
			Timeout: durationOr(cfg.Timeout, redis.DefaultTimeout),
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown notify type %q (must be webhook or redis)", cfg.Type)
	}
}
