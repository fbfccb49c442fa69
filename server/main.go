package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/herdctl/herd/pkg/telemetry"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	listen       = flag.String("listen", ":8080", "Listen address")
	dbPath       = flag.String("db", "herd.db", "Database path")
	adminToken   = flag.String("admin-token", "", "Bearer token for the admin API (or HERD_ADMIN_TOKEN)")
	staleAfter   = flag.Duration("stale-after", 30*time.Second, "Mark agents offline after this much silence")
	logLevel     = flag.String("log-level", "info", "Log level")
	logJSON      = flag.Bool("log-json", false, "Emit JSON logs")
	otlpEndpoint = flag.String("otlp-endpoint", "", "OTLP trace exporter endpoint (disabled when empty)")
	traceLog     = flag.Bool("trace-log", false, "Log completed spans to stdout")
	Version      = "dev"
)

// Server wires the five core stores to the HTTP surface. Each request runs
// to completion against the database; there is no per-agent session state.
type Server struct {
	db          *gorm.DB
	logger      zerolog.Logger
	tokens      *TokenStore
	registry    *Registry
	users       *UserDirectory
	mailbox     *Mailbox
	screenshots *ScreenshotCache
	audit       *AuditLog
	rateLimiter *RateLimiter
	adminToken  string
	staleAfter  time.Duration
}

func NewServer(db *gorm.DB, logger zerolog.Logger, adminToken string, staleAfter time.Duration) *Server {
	tokens := NewTokenStore(db)
	users := NewUserDirectory(db)
	return &Server{
		db:          db,
		logger:      logger,
		tokens:      tokens,
		registry:    NewRegistry(db, tokens),
		users:       users,
		mailbox:     NewMailbox(db, users),
		screenshots: NewScreenshotCache(),
		audit:       NewAuditLog(db, logger),
		rateLimiter: NewRateLimiter(),
		adminToken:  adminToken,
		staleAfter:  staleAfter,
	}
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Computer{},
		&LocalUser{},
		&Command{},
		&EnrollmentToken{},
		&AuditEntry{},
	)
}

func main() {
	flag.Parse()

	logger := newLogger(*logJSON, *logLevel)
	logger.Info().Str("version", Version).Msg("herd server starting")

	token := *adminToken
	if token == "" {
		token = os.Getenv("HERD_ADMIN_TOKEN")
	}
	if token == "" {
		logger.Fatal().Msg("admin token is required (-admin-token or HERD_ADMIN_TOKEN)")
	}

	db, err := gorm.Open(sqlite.Open(*dbPath), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Str("path", *dbPath).Msg("failed to open database")
	}
	if err := migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	ctx := context.Background()
	provider, err := telemetry.SetupTracing(ctx, "herd-server", Version, *otlpEndpoint, false, *traceLog, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	srv := NewServer(db, logger, token, *staleAfter)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(withRequestContext(logger))

	srv.registerAgentRoutes(r)
	srv.registerAdminRoutes(r)
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"rate_limiter": srv.rateLimiter.Stats(),
		})
	})

	logger.Info().Str("listen", *listen).Dur("stale_after", *staleAfter).Msg("listening")
	if err := r.Run(*listen); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func newLogger(jsonOut bool, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	parsed := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		parsed = lvl
	}

	if jsonOut {
		return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(parsed)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger().Level(parsed)
}
