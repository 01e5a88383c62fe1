package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arvlabs/arv/consts"
	"github.com/arvlabs/arv/internal/check"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/database"
	"github.com/arvlabs/arv/internal/server"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/logger"
	"github.com/arvlabs/arv/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the arv server",
	Long: `Start the HTTP server that reviewers and the CLI talk to.

On first run, use --check to interactively set up your environment:
  arv serve --check

After initial setup, simply run:
  arv serve`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "server host (overrides config)")
	serveCmd.Flags().Int("port", 0, "server port (overrides config)")
	serveCmd.Flags().String("data-dir", "", "storage directory (overrides config)")
	serveCmd.Flags().Bool("debug", false, "enable debug mode")
	serveCmd.Flags().Bool("check", false, "run interactive environment check before starting")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	interactiveCheck, _ := cmd.Flags().GetBool("check")

	path := configPath
	if path == "" {
		path = check.DefaultConfigPath
	}

	if interactiveCheck {
		checker := check.NewChecker(path)
		if err := checker.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Environment check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\n✓ Environment check completed successfully")
	} else {
		checker := check.NewChecker(path)
		result := checker.RunNonInteractive()
		if !result.Success {
			check.PrintCheckResult(result)
			os.Exit(1)
		}
		for _, warn := range result.Warnings {
			fmt.Fprintf(os.Stderr, "[WARNING] %s\n", warn)
		}
	}

	consts.SetStartedAt(time.Now())

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override config with command line flags
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	}

	if validationErr := cfg.Validate(); validationErr != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration (%s): %v\n", validationErr.Code, validationErr)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting arv", zap.String("version", Version))

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown telemetry", zap.Error(err))
		}
	}()

	if err := database.Init(cfg.Storage.DataDir); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	dataStore := store.NewStore(database.Get())

	srv := server.New(cfg, dataStore)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	logger.Info("arv server is running", zap.String("address", cfg.Server.Address()))
	logger.Info(fmt.Sprintf("  Local:   http://localhost:%d", cfg.Server.Port))
	if lanIP := getLocalIP(); lanIP != "" {
		logger.Info(fmt.Sprintf("  Network: http://%s:%d", lanIP, cfg.Server.Port))
	}

	srv.WaitForShutdown()
	logger.Info("arv stopped")
}

// getLocalIP returns the first non-loopback IPv4 address
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}
