package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/ggoodman/litemcp"
	"github.com/ggoodman/litemcp/auth"
	"github.com/ggoodman/litemcp/config"
	"github.com/ggoodman/litemcp/examples/echo"
	"github.com/ggoodman/litemcp/loaders"
	"github.com/ggoodman/litemcp/mcpservice"
	"github.com/ggoodman/litemcp/sse"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	configPath string
	daemon     bool
	pidFile    string
	transport  string
	endpoint   string
	port       int
	logLevel   string
	dir        string
	baseURI    string
	redisKeys  []string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the built-in echo server plus optional file and Redis resources",
		Long: "serve reads LITEMCP_* environment variables, then the --config file, and applies any flags on top. " +
			"With --dir, every file under the directory is exposed as a resource.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			cfg, err = applyFlags(cmd, cfg, f)
			if err != nil {
				return err
			}

			if f.daemon {
				if cfg.Transport.Type != config.TransportSSE {
					return errors.New("--daemon requires the sse transport")
				}
				parent, release, err := daemonize(f.pidFile)
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				if parent {
					return nil
				}
				defer release()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			lv := new(slog.LevelVar)
			level, _ := config.ParseLevel(cfg.LogLevel)
			lv.Set(level)
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))

			srv, cleanup, err := buildServer(ctx, cfg, f, log, lv)
			if err != nil {
				return err
			}
			defer cleanup()
			return srv.Start(ctx, cfg.Transport)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML configuration file; its keys override the environment")
	cmd.Flags().BoolVar(&f.daemon, "daemon", false, "run in the background (sse transport only)")
	cmd.Flags().StringVar(&f.pidFile, "pid-file", "litemcp.pid", "PID file written in --daemon mode")
	cmd.Flags().StringVar(&f.transport, "transport", "", "stdio or sse (overrides LITEMCP_TRANSPORT)")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "SSE endpoint path (overrides LITEMCP_SSE_ENDPOINT)")
	cmd.Flags().IntVar(&f.port, "port", 0, "SSE listen port (overrides LITEMCP_SSE_PORT)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides LITEMCP_LOG_LEVEL)")
	cmd.Flags().StringVar(&f.dir, "dir", "", "expose every file under this directory as a resource")
	cmd.Flags().StringVar(&f.baseURI, "base-uri", "file:///", "URI prefix for --dir resources")
	cmd.Flags().StringSliceVar(&f.redisKeys, "redis-key", nil, "expose a Redis string key as a resource (repeatable)")
	return cmd
}

// applyFlags overlays explicitly set flags on the environment config.
func applyFlags(cmd *cobra.Command, cfg config.Config, f serveFlags) (config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport.Type = config.TransportType(f.transport)
	}
	if flags.Changed("endpoint") {
		cfg.Transport.SSE.Endpoint = f.endpoint
	}
	if flags.Changed("port") {
		cfg.Transport.SSE.Port = f.port
	}
	if flags.Changed("log-level") {
		if _, err := config.ParseLevel(f.logLevel); err != nil {
			return cfg, err
		}
		cfg.LogLevel = f.logLevel
	}
	cfg.Transport = cfg.Transport.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildServer assembles the server. The returned cleanup releases external
// clients; file watchers stop when ctx is canceled.
func buildServer(ctx context.Context, cfg config.Config, f serveFlags, log *slog.Logger, lv *slog.LevelVar) (*litemcp.Server, func(), error) {
	cleanup := func() {}
	opts := []litemcp.Option{
		litemcp.WithLogger(log),
		litemcp.WithLevelVar(lv),
		litemcp.WithMetrics(),
	}
	if cfg.RateLimit.PerSecond > 0 {
		opts = append(opts, litemcp.WithSSEOptions(sse.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)))
	}

	if cfg.Auth.Enabled() {
		acfg := auth.Config{Issuer: cfg.Auth.Issuer, Audiences: []string{cfg.Auth.Audience}}
		var (
			authn auth.Authenticator
			err   error
		)
		if cfg.Auth.JWKSURL != "" {
			authn, err = auth.NewStatic(ctx, acfg, cfg.Auth.JWKSURL)
		} else {
			authn, err = auth.NewFromDiscovery(ctx, acfg)
		}
		if err != nil {
			return nil, cleanup, fmt.Errorf("auth: %w", err)
		}
		opts = append(opts, litemcp.WithAuthenticator(authn))
	}

	srv, err := echo.New(opts...)
	if err != nil {
		return nil, cleanup, err
	}

	if f.dir != "" {
		resources, err := loaders.Dir(ctx, f.dir, f.baseURI, loaders.WithFileLogger(log))
		if err != nil {
			return nil, cleanup, err
		}
		for _, r := range resources {
			if err := srv.AddResource(r); err != nil {
				return nil, cleanup, err
			}
		}
		go func() {
			if err := loaders.Watch(ctx, log, resources...); err != nil {
				log.WarnContext(ctx, "loader.file.watch_fail", slog.String("dir", f.dir), slog.String("err", err.Error()))
			}
		}()
		log.InfoContext(ctx, "serve.dir.loaded", slog.String("dir", f.dir), slog.Int("resources", len(resources)))
	}

	if len(f.redisKeys) > 0 {
		cl, err := loaders.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { _ = cl.Close() }
		for _, key := range f.redisKeys {
			res := mcpservice.Resource{
				URI:    "redis:///" + url.PathEscape(key),
				Name:   key,
				Loader: loaders.RedisKey(cl, key),
			}
			if err := srv.AddResource(res); err != nil {
				cleanup()
				return nil, func() {}, err
			}
		}
	}
	return srv, cleanup, nil
}
