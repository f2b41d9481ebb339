package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nmk/rehab-ledger/internal/config"
	"github.com/nmk/rehab-ledger/internal/domain/ledger"
	"github.com/nmk/rehab-ledger/internal/platform/auth"
	"github.com/nmk/rehab-ledger/internal/platform/db"
	"github.com/nmk/rehab-ledger/internal/platform/logging"
	"github.com/nmk/rehab-ledger/internal/platform/middleware"
	"github.com/nmk/rehab-ledger/internal/platform/sequence"
	"github.com/nmk/rehab-ledger/internal/platform/websocket"
	"github.com/nmk/rehab-ledger/internal/platform/workbook"
)

const banner = "Nasha Mukti System API Running..."

func main() {
	rootCmd := &cobra.Command{
		Use:   "rehab-server",
		Short: "Rehab center ledger API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(workbookCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(hashPasswordCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the postgres store",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			schema, dir := migrateFlags(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			schema, dir := migrateFlags(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, schema)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			printMigrationStatus(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrateFlags(cmd *cobra.Command, cfg *config.Config) (schema, dir string) {
	schema, _ = cmd.Flags().GetString("schema")
	dir, _ = cmd.Flags().GetString("dir")
	if schema == "" {
		schema = cfg.DBSchema
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	return schema, dir
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func workbookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workbook",
		Short: "Manage the spreadsheet store",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the ledger workbook with its sheets and header rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.WorkbookPath
			}

			wb, err := workbook.Open(path, ledger.Sheets)
			if err != nil {
				return err
			}
			defer wb.Close()
			fmt.Printf("Workbook ready at %s\n", wb.Path())
			return nil
		},
	}
	initCmd.Flags().String("path", "", "Workbook file (default WORKBOOK_PATH)")
	cmd.AddCommand(initCmd)
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Cross-check patients against payments and print discrepancies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, closer := newLogger(cfg)
			defer closer.Close()

			ctx := context.Background()
			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			found, err := b.svc.Reconcile(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]interface{}{"count": len(found), "discrepancies": found}); err != nil {
				return err
			}
			for _, d := range found {
				if d.Severity == "error" {
					return fmt.Errorf("ledger has %d discrepancies", len(found))
				}
			}
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer) {
	return logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: cfg.IsDev(),
	})
}

// backend is the store and ledger service selected by STORE_DRIVER, plus the
// connections they hold.
type backend struct {
	svc     *ledger.Service
	store   ledger.Store
	pool    *pgxpool.Pool
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.pool = pool
		b.closers = append(b.closers, pool.Close)
		b.store = ledger.NewPGStore(pool)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	default:
		store, err := ledger.OpenWorkbookStore(cfg.WorkbookPath)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		b.closers = append(b.closers, func() { store.Close() })
		b.store = store
		logger.Info().Str("path", cfg.WorkbookPath).Msg("opened ledger workbook")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := sequence.NewClient(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			b.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rdb = client
		b.closers = append(b.closers, func() { client.Close() })
		logger.Info().Msg("connected to redis")
	}

	ids := idSource(b.store, rdb)
	logger.Info().Str("store", fmt.Sprint(b.store)).Str("ids", fmt.Sprintf("%T", ids)).Msg("ledger ready")
	b.svc = ledger.NewService(b.store, ids, ledger.ParseMobilePolicy(cfg.MobilePolicy), logger)
	return b, nil
}

// idSource picks the identifier allocator: a Redis counter when configured,
// the database sequences for the postgres store, and the table contents
// otherwise.
func idSource(store ledger.Store, rdb *redis.Client) ledger.IDSource {
	if rdb != nil {
		return ledger.NewCounterIDSource(sequence.NewCounter(rdb, "rehab:seq:"))
	}
	if src, ok := store.(ledger.IDSource); ok {
		return src
	}
	return ledger.LogIDSource{}
}

// resolveSigningKey returns the token signing key from JWT_SECRET, accepted
// hex-encoded or as plain text, or generates a random 32-byte key. The second
// return value is true when a random key was generated.
func resolveSigningKey(secret string) ([]byte, bool, error) {
	if secret != "" {
		if decoded, err := hex.DecodeString(secret); err == nil && len(decoded) >= 32 {
			return decoded, false, nil
		}
		return []byte(secret), false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random JWT signing key: %w", err)
	}
	return key, true, nil
}

// newServer builds the echo instance with every route and middleware.
func newServer(cfg *config.Config, logger zerolog.Logger, b *backend, creds *auth.Credentials, tokens *auth.TokenIssuer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Audit(logger))

	hub := websocket.NewHub(logger)
	b.svc.SetFeed(hub)

	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, banner)
	})

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     "0.1.0",
			"store":       cfg.StoreDriver,
			"feedClients": hub.ClientCount(),
		})
	})
	if b.pool != nil {
		e.GET("/health/db", db.HealthHandler(b.pool))
	}

	// Login is rate limited per client IP
	loginLimit := middleware.LoginRateLimitConfig()
	if cfg.LoginRateLimitRPS > 0 {
		loginLimit.RequestsPerSecond = cfg.LoginRateLimitRPS
	}
	if cfg.LoginRateLimitBurst > 0 {
		loginLimit.BurstSize = cfg.LoginRateLimitBurst
	}
	auth.NewLoginHandler(creds, tokens, logger).RegisterRoutes(e, middleware.RateLimit(loginLimit))

	requireAdmin := auth.JWTMiddleware(tokens)
	intake := auth.Optional(!cfg.PublicIntake, requireAdmin)
	ledger.NewHandler(b.svc).RegisterRoutes(e, requireAdmin, intake)

	// Live change feed
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e, auth.QueryToken(), requireAdmin)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger, closer := newLogger(cfg)
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Admin credentials and tokens
	key, generated, err := resolveSigningKey(cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve JWT signing key")
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set; using a random key, tokens will not survive a restart")
	}
	tokens := auth.NewTokenIssuer(key, cfg.TokenTTL)
	creds, err := auth.NewCredentials(cfg.AdminEmail, cfg.AdminPasswordHash, cfg.AdminPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid admin credentials")
	}

	// Store
	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open ledger store")
	}
	defer b.Close()

	e := newServer(cfg, logger, b, creds, tokens)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
