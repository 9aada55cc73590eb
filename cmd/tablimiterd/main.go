package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Camilo-ovalle/tab-limiter/internal/browser"
	"github.com/Camilo-ovalle/tab-limiter/internal/config"
	"github.com/Camilo-ovalle/tab-limiter/internal/limiter"
	"github.com/Camilo-ovalle/tab-limiter/internal/logger"
	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "tablimiterd",
		Short: "Tab and window limit enforcement daemon",
	}

	root.AddCommand(
		runCmd(),
		checkCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the limiter daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("tablimiterd starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b, err := browser.NewCDP(ctx, browser.CDPConfig{
		URL:            cfg.CDPURL,
		ConnectTimeout: cfg.CDPConnectTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("attach browser: %w", err)
	}
	defer b.Close()

	svc, err := limiter.New(cfg, b, store, log)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	return svc.Run(ctx)
}

// checkCmd runs one synchronous enforcement pass and exits.
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a one-shot enforcement check and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := buildLogger(cfg)

			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			b, err := browser.NewCDP(ctx, browser.CDPConfig{
				URL:            cfg.CDPURL,
				ConnectTimeout: cfg.CDPConnectTimeout,
			}, log)
			if err != nil {
				return err
			}
			defer b.Close()

			svc, err := limiter.New(cfg, b, store, log)
			if err != nil {
				return err
			}
			if err := svc.ForceCheck(ctx); err != nil {
				return fmt.Errorf("check: %w", err)
			}
			for _, e := range svc.Activity().Snapshot() {
				fmt.Printf("%s [%s] %s\n", e.Timestamp.Format("15:04:05"), e.Type, e.Message)
			}
			return nil
		},
	}
}

// healthcheckCmd exits 0 if the daemon is healthy.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tablimiterd %s\n", Version)
		},
	}
}

func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
