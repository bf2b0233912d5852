package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/filedrop/backend/internal/api"
	"github.com/filedrop/backend/internal/config"
	"github.com/filedrop/backend/internal/logging"
	"github.com/filedrop/backend/internal/preview"
	"github.com/filedrop/backend/internal/staging"
	"github.com/filedrop/backend/internal/storage"
	"github.com/filedrop/backend/internal/upload"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	configPath string
	portFlag   int
)

var rootCmd = &cobra.Command{
	Use:          "filedrop",
	Short:        "File staging server",
	Long:         "Serves upload widgets that stage dropped files, enforce the selection size limit and expose previews before upload",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every staged blob left in the uploads directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewLocalStore(cfg.GetUploadDir())
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		n, err := store.Purge()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d staged blobs from %s\n", n, cfg.GetUploadDir())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("filedrop %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to the XML or YAML configuration file")
	rootCmd.Flags().IntVarP(&portFlag, "port", "p", 0,
		"Listen port, overrides the configuration file")

	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// defaultConfigPath puts the config next to the executable
func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "filedrop.config"
	}
	return filepath.Join(filepath.Dir(exePath), "filedrop.config")
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = portFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logging.Configure(cfg.Advanced.LogLevel, os.Stdout)
	api.ExposeErrorDetails = logging.ParseLevel(cfg.Advanced.LogLevel) == log.DEBUG
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	logger := logging.New("server")

	// Initialize storage
	blobStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if cfg.Storage.PurgeOnStartup {
		if n, err := blobStore.Purge(); err != nil {
			logger.Warnf("failed to purge leftover blobs: %v", err)
		} else if n > 0 {
			logger.Infof("purged %d leftover blobs", n)
		}
	}

	previews := preview.NewRegistry(blobStore, preview.DefaultBasePath)
	widgets := staging.NewManager(previews, cfg.Staging.MaxWidgets)
	defer widgets.Close()

	// Start background widget cleanup
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Staging.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		timeout := time.Duration(cfg.Staging.WidgetTimeoutMinutes) * time.Minute
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := widgets.CleanupIdle(timeout); n > 0 {
					logger.Infof("closed %d idle widgets", n)
				}
			}
		}
	}()

	handlers := api.NewHandlers(&api.Dependencies{
		Store:           blobStore,
		Widgets:         widgets,
		Previews:        previews,
		Intake:          upload.NewIntake(blobStore),
		MultipartMemory: cfg.GetMultipartMemory(),
		MaxMessageSize:  int64(cfg.Advanced.WebSocketMaxMessageSize) << 10,
		Version:         Version,
	})

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(logging.ParseLevel(cfg.Advanced.LogLevel))

	api.SetupMiddleware(e, api.MiddlewareOptions{
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   cfg.Server.AllowOrigins,
		BodyLimit:      cfg.Server.BodyLimit,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	// Configure server with settings from config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           FileDrop Staging Server                         ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Staging:   %-46s║\n", cfg.GetUploadDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
