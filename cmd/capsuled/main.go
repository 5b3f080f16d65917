package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/venlock/capsuled/internal/access"
	"github.com/venlock/capsuled/internal/content"
	"github.com/venlock/capsuled/internal/infra/buildinfo"
	"github.com/venlock/capsuled/internal/infra/confloader"
	"github.com/venlock/capsuled/internal/infra/shutdown"
	"github.com/venlock/capsuled/internal/infra/tlsident"
	"github.com/venlock/capsuled/internal/server/config"
	"github.com/venlock/capsuled/internal/server/geminiserver"
	"github.com/venlock/capsuled/internal/telemetry/logger"
	"github.com/venlock/capsuled/internal/telemetry/metric"
)

func main() {
	app := &cli.App{
		Name:    "capsuled",
		Usage:   "Gemini protocol content server",
		Version: buildinfo.String(),
		Commands: []*cli.Command{
			serveCommand(),
			certCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"CAPSULED_CONFIG"},
			},
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides config)"},
			&cli.StringFlag{Name: "host", Usage: "Served hostname (overrides config)"},
			&cli.StringFlag{Name: "root", Usage: "Content root directory (overrides config)"},
			&cli.StringFlag{Name: "cert", Usage: "TLS certificate file (overrides config)"},
			&cli.StringFlag{Name: "key", Usage: "TLS key file (overrides config)"},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	slog.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting capsuled",
		"version", info.Version,
		"commit", info.Commit,
		"host", cfg.Server.Host,
		"root", cfg.Content.Root)

	identity, err := tlsident.Load(cfg.Server.CertFile, cfg.Server.KeyFile)
	if err != nil {
		return fmt.Errorf("load TLS identity: %w", err)
	}

	resolver, err := content.New(cfg.Content.Root, cfg.Server.Host, cfg.Server.Port, contentRules(cfg))
	if err != nil {
		return fmt.Errorf("init content resolver: %w", err)
	}

	auth, err := access.NewAuthorizer(accessRules(cfg))
	if err != nil {
		return fmt.Errorf("init authorizer: %w", err)
	}

	var limiter *access.LimiterRegistry
	if cfg.Access.RateLimit > 0 {
		limiter = access.NewLimiterRegistry(cfg.Access.RateLimit, cfg.Access.RateBurst)
	}

	metrics := metric.NewRegistry()

	srv := geminiserver.New(&geminiserver.Config{
		Addr:             cfg.Server.Addr,
		MaxConns:         cfg.Server.MaxConns,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		ShutdownGrace:    cfg.Server.ShutdownGrace,
	}, identity.ServerConfig(), resolver, auth, limiter, metrics, log)

	// Hooks run in reverse registration order; give them a little more
	// room than the server's own grace period.
	shutdownHandler := shutdown.NewHandler(cfg.Server.ShutdownGrace + 5*time.Second)

	if cfg.Server.WatchCert {
		watcher := tlsident.NewWatcher(identity, log)
		go func() {
			if err := watcher.Start(); err != nil {
				log.Error("certificate watcher error", "error", err)
			}
		}()
		shutdownHandler.OnShutdown(func(context.Context) error {
			watcher.Stop()
			return nil
		})
	}

	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Addr, metrics)
		go func() {
			log.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down metrics server")
			return metricsServer.Shutdown(ctx)
		})
	}

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down gemini server")
		return srv.Shutdown(ctx)
	})

	if err := srv.Start(context.Background()); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig builds the effective configuration: defaults, then config
// file, then environment, then command-line overrides.
func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if v := c.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if v := c.String("host"); v != "" {
		cfg.Server.Host = v
	}
	if v := c.String("root"); v != "" {
		cfg.Content.Root = v
	}
	if v := c.String("cert"); v != "" {
		cfg.Server.CertFile = v
	}
	if v := c.String("key"); v != "" {
		cfg.Server.KeyFile = v
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func contentRules(cfg *config.ServerConfig) content.Rules {
	rules := content.Rules{IndexFile: cfg.Content.IndexFile}
	for _, r := range cfg.Content.Redirects {
		rules.Redirects = append(rules.Redirects, content.RedirectRule{
			Path:      r.Path,
			Target:    r.Target,
			Permanent: r.Permanent,
		})
	}
	for _, p := range cfg.Content.Prompts {
		rules.Prompts = append(rules.Prompts, content.PromptRule{
			Path:      p.Path,
			Prompt:    p.Prompt,
			Sensitive: p.Sensitive,
		})
	}
	return rules
}

func accessRules(cfg *config.ServerConfig) []access.Rule {
	rules := make([]access.Rule, 0, len(cfg.Access.Protected))
	for _, p := range cfg.Access.Protected {
		rules = append(rules, access.Rule{
			Prefix:       p.Prefix,
			Fingerprints: p.Fingerprints,
		})
	}
	return rules
}

func certCommand() *cli.Command {
	return &cli.Command{
		Name:  "cert",
		Usage: "Generate a self-signed TLS certificate",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Hostname for the certificate", Required: true},
			&cli.StringFlag{Name: "out-cert", Usage: "Certificate output path", Value: "cert.pem"},
			&cli.StringFlag{Name: "out-key", Usage: "Key output path", Value: "key.pem"},
			&cli.IntFlag{Name: "days", Usage: "Validity in days", Value: 3650},
		},
		Action: func(c *cli.Context) error {
			validFor := time.Duration(c.Int("days")) * 24 * time.Hour
			certPEM, keyPEM, err := tlsident.SelfSigned(c.String("host"), validFor)
			if err != nil {
				return fmt.Errorf("generate certificate: %w", err)
			}
			if err := os.WriteFile(c.String("out-cert"), certPEM, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(c.String("out-key"), keyPEM, 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s and %s for host %s\n", c.String("out-cert"), c.String("out-key"), c.String("host"))
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(*cli.Context) error {
			fmt.Printf("capsuled %s\n", buildinfo.String())
			return nil
		},
	}
}
