package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rcliao/slicegate/internal/api"
	"github.com/rcliao/slicegate/internal/health"
	"github.com/rcliao/slicegate/internal/policy"
	"github.com/rcliao/slicegate/internal/slice"
	"github.com/rcliao/slicegate/internal/token"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the slicing service",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	cmd.Flags().Bool("debug", false, "Enable debug logging")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	debug, _ := cmd.Flags().GetBool("debug")

	zapCfg := zap.NewProductionConfig()
	if debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		exitErr("init logger", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if addr != "" {
		cfg.Addr = addr
	}

	// No signing secret means no attestations: refuse to start.
	tokens, err := token.NewService(cfg.SigningSecret, cfg.RetiredSecrets, time.Duration(cfg.TokenTTL))
	if err != nil {
		exitErr("token service", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := policy.NewRegistry(st)
	checker := health.New(st, registry.Load, time.Duration(cfg.ProbeInterval), logger)
	if err := registry.Load(ctx); err != nil {
		// The service stays in a not-ready state and the probe loop
		// keeps retrying; readiness is blocked until the load succeeds.
		logger.Error("policy registry load failed at startup", zap.Error(err))
	} else {
		checker.MarkRegistryLoaded()
		logger.Info("policy registry loaded", zap.Int("versions", len(registry.List())))
	}
	go checker.Run(ctx)

	server := api.NewServer(api.Config{
		Registry:         registry,
		Builder:          slice.NewBuilder(st),
		Tokens:           tokens,
		Health:           checker,
		Logger:           logger,
		BatchConcurrency: cfg.BatchConcurrency,
		FetchRate:        cfg.FetchRate,
		FetchBurst:       cfg.FetchBurst,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			exitErr("serve", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}
}
