package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lattice-chat/lattice-gateway/internal/auth"
	"github.com/lattice-chat/lattice-gateway/internal/config"
	"github.com/lattice-chat/lattice-gateway/internal/gateway"
	"github.com/lattice-chat/lattice-gateway/internal/httputil"
	"github.com/lattice-chat/lattice-gateway/internal/member"
	"github.com/lattice-chat/lattice-gateway/internal/postgres"
	"github.com/lattice-chat/lattice-gateway/internal/producer"
	"github.com/lattice-chat/lattice-gateway/internal/role"
	"github.com/lattice-chat/lattice-gateway/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Gateway stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("env", cfg.ServerEnv).
		Msg("Starting Lattice Gateway")

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	roleRepo := role.NewPGRepository(db, log.Logger)
	memberRepo := member.NewPGRepository(db, log.Logger)

	// Issuer verification is left disabled: the gateway treats JWT issuance as an external collaborator's concern
	// (spec.md 1) and only the signing secret is shared with it.
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, "")

	gw := gateway.New(authenticator, gateway.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ResumableWindow:   cfg.ResumeWindow(),
		SendBufferSize:    cfg.GatewaySendBufferSize,
	}, log.Logger)

	if err := gw.Registry.SeedRoleIndex(ctx, roleRepo, memberRepo); err != nil {
		return fmt.Errorf("seed role index: %w", err)
	}
	log.Info().Int("connected_users", gw.Registry.ConnectedUserCount()).Msg("Role index seeded")

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	gw.Start(subCtx)

	bridge := gateway.NewPubSubBridge(rdb, gw.Registry, log.Logger)
	go runWithBackoff(subCtx, "pubsub-bridge", bridge.Run)

	producerHandler := producer.NewHandler(gw.Registry, memberRepo, bridge, cfg.ProducerAuthToken)

	app := fiber.New(fiber.Config{
		AppName: "Lattice Gateway",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "an internal error occurred"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{Code: httputil.ErrCodeInternal, Message: message},
			})
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))

	app.Get("/healthz", func(c fiber.Ctx) error {
		return httputil.Success(c, fiber.Map{"status": "ok"})
	})

	// Gateway WebSocket endpoint. Authentication happens inside the socket via IDENTIFY/RESUME (spec.md 4.4), not
	// at the HTTP layer, so no auth middleware sits in front of the upgrade.
	app.Get("/gateway", func(c fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return websocket.New(func(conn *websocket.Conn) {
			gw.ServeWebSocket(conn.Conn)
		})(c)
	})

	producerGroup := app.Group("/producer", producerHandler.RequireAuth())
	producerHandler.RegisterRoutes(producerGroup)

	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down gateway")
		gw.Shutdown()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.GatewayBindAddr).Msg("Gateway listening")
	if err := app.Listen(cfg.GatewayBindAddr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled
// error. If fn returns nil or context.Canceled the goroutine exits.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}
