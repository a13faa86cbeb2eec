package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/mongostash/internal/app"
	"github.com/semmidev/mongostash/internal/config"
	"github.com/semmidev/mongostash/internal/infrastructure/logger"
)

var (
	configPath  string
	authAddr    string
	redirectURL string
)

var rootCmd = &cobra.Command{
	Use:           "mongostash",
	Short:         "Dump MongoDB into a tgz archive and ship it to object storage",
	Long:          `Exports every collection (documents and index metadata) of a MongoDB deployment into backup-<UTC time>.tgz, uploads it to S3, GCS, Azure Blob or Google Drive, and reports failures by email and Telegram.`,
	RunE:          runOnce,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run a backup on every tick of app.schedule",
	RunE:  runSchedule,
}

var driveAuthCmd = &cobra.Command{
	Use:   "drive-auth",
	Short: "Obtain a Google Drive refresh token for the gdrive provider",
	RunE:  runDriveAuth,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to an optional YAML configuration file")

	driveAuthCmd.Flags().StringVar(&authAddr, "addr", "localhost:8085", "Address for the local OAuth callback server")
	driveAuthCmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost:8085/auth/google/callback", "OAuth redirect URL registered for the client")

	rootCmd.AddCommand(scheduleCmd, driveAuthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize app: %w", err)
	}
	return application, nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.RunOnce(ctx)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Schedule(ctx)
}

func runDriveAuth(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return err
	}
	defer log.Close()

	auth, err := app.NewDriveAuth(log, cfg.Upload.ClientSecretFile, redirectURL)
	if err != nil {
		return err
	}
	if err := auth.Start(authAddr); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = auth.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Open http://%s/auth/google/drive in a browser to authorize Google Drive access.\n", authAddr)

	select {
	case token := <-auth.Tokens():
		fmt.Printf("Refresh token: %s\n", token.RefreshToken)
	case <-ctx.Done():
	}
	return nil
}
