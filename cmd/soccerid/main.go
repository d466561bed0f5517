// Command soccerid runs the wallet identity server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/0xfutbol/id/adapters/events"
	"github.com/0xfutbol/id/adapters/moderation"
	"github.com/0xfutbol/id/adapters/password"
	"github.com/0xfutbol/id/adapters/provisioner"
	"github.com/0xfutbol/id/adapters/store"
	"github.com/0xfutbol/id/adapters/tokenizer"
	"github.com/0xfutbol/id/config"
	"github.com/0xfutbol/id/internal/eth"
	"github.com/0xfutbol/id/ports"
	"github.com/0xfutbol/id/service"
	httpapi "github.com/0xfutbol/id/transport/http"
	"github.com/0xfutbol/id/waas"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "soccerid"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		level, err := cfg.SlogLevel()
		if err != nil {
			return nil, nil, err
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Wallet identity claim and session service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return migrate(cfg, logger)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	identityStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	authority, err := loadAuthority(cfg, logger)
	if err != nil {
		return err
	}

	eventPub, closeEvents, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer closeEvents()

	reserved := cfg.Auth.Reserved
	if len(reserved) == 0 {
		reserved = moderation.DefaultReserved
	}
	moderator := moderation.NewBlocklist(reserved, cfg.Auth.BlockedTerms)
	tk := tokenizer.NewJWTTokenizer([]byte(cfg.Auth.JWTSecret))
	domain := eth.NewDomain(cfg.Auth.ChainID, common.HexToAddress(cfg.Auth.VerifyingContract))
	opts := []service.Option{service.WithLogger(logger), service.WithProduct(cfg.Auth.Product)}

	claims := service.NewClaimService(identityStore, tk, eventPub, moderator, authority, domain, opts...)

	var identities *service.IdentityService
	if cfg.WaaS.BaseURL != "" {
		client := waas.NewClient(cfg.WaaS.BaseURL, cfg.WaaS.ServiceToken,
			waas.WithTimeout(cfg.WaaS.Timeout),
			waas.WithLogger(logger),
		)
		hasher := password.NewArgon2Hasher(password.Params{
			Memory:      cfg.Password.MemoryKiB,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLen:     password.DefaultParams.SaltLen,
			KeyLen:      password.DefaultParams.KeyLen,
		})
		identities = service.NewIdentityService(identityStore, tk, eventPub, moderator, hasher, provisioner.NewWaaSProvisioner(client), opts...)
	} else {
		logger.Info("waas.base_url not set, password identities disabled")
	}

	router := httpapi.SetupRouter(httpapi.RouterConfig{
		Claims:     claims,
		Identities: identities,
		Store:      identityStore,
		Logger:     logger,
		Metrics:    httpapi.NewMetrics(),
		RateLimit:  cfg.Server.RateLimit,
		RateBurst:  cfg.Server.RateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.Server.Addr,
			"store", cfg.Store.Driver,
			"authority", authority.Address().Hex(),
			"chain_id", cfg.Auth.ChainID,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrate(cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Store.Driver {
	case "postgres":
		version, err := store.ApplyMigrations(cfg.Store.MigrationsDir, cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "version", version)
	case "sqlite":
		// the sqlite store migrates its schema when opened
		s, err := openSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		logger.Info("sqlite schema ready", "path", cfg.Store.SQLitePath)
		return s.Close()
	default:
		logger.Info("store driver has no schema to migrate", "driver", cfg.Store.Driver)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (ports.IdentityStore, func(), error) {
	switch cfg.Store.Driver {
	case "redis":
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return store.NewRedisStore(client), func() { _ = client.Close() }, nil

	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "sqlite":
		s, err := openSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func openSQLite(path string) (*store.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
	}
	return store.NewSQLiteStore(path)
}

func loadAuthority(cfg *config.Config, logger *slog.Logger) (eth.Signer, error) {
	if cfg.Auth.AuthorityKey != "" {
		return eth.NewKeySignerFromHex(cfg.Auth.AuthorityKey)
	}
	key, err := eth.GenerateKeySigner()
	if err != nil {
		return nil, err
	}
	logger.Warn("no authority key configured, claim approvals signed with a throwaway key",
		"address", key.Address().Hex())
	return key, nil
}

func openPublisher(cfg *config.Config) (ports.EventPublisher, func(), error) {
	if cfg.Events.RedisURL == "" {
		return events.NopPublisher{}, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.Events.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse events redis url: %w", err)
	}
	client := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	return events.NewWatermillPublisher(publisher), func() {
		_ = publisher.Close()
		_ = client.Close()
	}, nil
}
