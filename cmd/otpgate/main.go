package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/edline/otpgate/internal/cache"
	"github.com/edline/otpgate/internal/config"
	"github.com/edline/otpgate/internal/dispatch"
	"github.com/edline/otpgate/internal/domain/repository"
	loginctrl "github.com/edline/otpgate/internal/http/controllers/login"
	"github.com/edline/otpgate/internal/http/router"
	loginsvc "github.com/edline/otpgate/internal/http/services/login"
	"github.com/edline/otpgate/internal/metrics"
	"github.com/edline/otpgate/internal/observability/logger"
	"github.com/edline/otpgate/internal/otp/backup"
	"github.com/edline/otpgate/internal/otp/flow"
	"github.com/edline/otpgate/internal/otp/remember"
	"github.com/edline/otpgate/internal/otp/replay"
	"github.com/edline/otpgate/internal/rate"
	"github.com/edline/otpgate/internal/security/secretbox"
	"github.com/edline/otpgate/internal/store/memory"
	"github.com/edline/otpgate/internal/store/pg"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "otpgate",
		Short: "OTP verification service for multi-factor login",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("OTPGATE_CONFIG"), "path to config.yaml (optional)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	}

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a master key for OTPGATE_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			var k [32]byte
			if _, err := rand.Read(k[:]); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(k[:]))
			return nil
		},
	}

	root.AddCommand(serveCmd, keygenCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "otpgate",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	if cfg.Security.MasterKey != "" && os.Getenv("OTPGATE_MASTER_KEY") == "" {
		_ = os.Setenv("OTPGATE_MASTER_KEY", cfg.Security.MasterKey)
	}

	// Cache (replay guard, login sessions, rate windows).
	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = cacheClient.Close() }()

	ctx := context.Background()

	// Principal store.
	var repo repository.PrincipalRepository
	switch cfg.Storage.Driver {
	case "postgres":
		if !secretbox.Ready() {
			return errors.New("postgres storage requires OTPGATE_MASTER_KEY for secrets at rest")
		}
		pgStore, err := pg.New(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		repo = pgStore
	default:
		log.Warn("using in-memory principal store, data is not persisted")
		repo = memory.New()
	}

	// Code delivery.
	var dispatcher dispatch.Dispatcher = dispatch.Noop{}
	if cfg.SMTP.Host != "" {
		s := dispatch.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		s.TLSMode = cfg.SMTP.TLS
		s.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
		s.GatewayDomain = cfg.SMTP.SMSGatewayDomain
		dispatcher = s
	} else {
		log.Warn("smtp not configured, otp codes will not be delivered")
	}

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// Remember-me MAC key, derived from the master key so it never
	// coincides with the encryption key. Without a master key (dev) an
	// ephemeral key is used; tokens die with the process.
	rememberKey, err := secretbox.DeriveKey("remember-me-token")
	if err != nil {
		log.Warn("no master key, remember-me tokens will not survive restarts", logger.Err(err))
		rememberKey = make([]byte, 32)
		if _, err := rand.Read(rememberKey); err != nil {
			return err
		}
	}

	resetAny := make(map[string]bool, len(cfg.OTP.ResetAnyMFA))
	for _, id := range cfg.OTP.ResetAnyMFA {
		resetAny[id] = true
	}

	f := flow.New(
		repo,
		backup.New(repo),
		replay.New(cacheClient),
		remember.New(rememberKey, config.Dur(cfg.OTP.RememberTTL)),
		dispatcher,
		flow.StaticPermissionChecker{MFARequired: cfg.OTP.MFARequired, ResetAnyMFA: resetAny},
		flow.Config{Issuer: cfg.OTP.Issuer, BackupCodeCount: cfg.OTP.BackupCodeCount},
	)

	sessions := loginsvc.NewSessionStore(cacheClient, config.Dur(cfg.OTP.SessionTTL))
	service := loginsvc.NewOTPService(repo, f, sessions, cfg.OTP.Issuer)
	controller := loginctrl.NewOTPController(service, loginctrl.CookieConfig{
		SessionName:  cfg.OTP.SessionCookieName,
		RememberName: cfg.OTP.RememberCookieName,
		SessionTTL:   config.Dur(cfg.OTP.SessionTTL),
		RememberTTL:  config.Dur(cfg.OTP.RememberTTL),
		Secure:       cfg.App.Env == "prod",
	})

	var loginLimiter, submitLimiter rate.Limiter
	if cfg.Rate.Enabled {
		loginLimiter = newLimiter(cfg, "rl:login:", cfg.Rate.Login.Limit, config.Dur(cfg.Rate.Login.Window))
		submitLimiter = newLimiter(cfg, "rl:submit:", cfg.Rate.Submit.Limit, config.Dur(cfg.Rate.Submit.Window))
	}

	handler := router.New(router.Deps{
		OTP:           controller,
		Cache:         cacheClient,
		LoginLimiter:  loginLimiter,
		SubmitLimiter: submitLimiter,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Info("http server listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("metrics server listening", logger.String("addr", metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Dur(cfg.Server.ShutdownTimeout))
		defer cancel()
		log.Info("shutting down")
		_ = metricsSrv.Shutdown(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newLimiter picks the limiter backend matching the cache driver.
func newLimiter(cfg *config.Config, prefix string, max int, window time.Duration) rate.Limiter {
	if cfg.Cache.Kind == "redis" {
		client := rdb.NewClient(&rdb.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		return rate.NewRedisLimiter(client, cfg.Cache.Redis.Prefix+prefix, max, window)
	}
	return rate.NewMemoryLimiter(max, window)
}
