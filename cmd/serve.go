package cmd

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/upak-space/upak-auth/app/controller"
	authgrpc "github.com/upak-space/upak-auth/app/grpc"
	"github.com/upak-space/upak-auth/app/jobs"
	"github.com/upak-space/upak-auth/app/metrics"
	"github.com/upak-space/upak-auth/app/middleware"
	"github.com/upak-space/upak-auth/app/repository"
	"github.com/upak-space/upak-auth/app/security"
	"github.com/upak-space/upak-auth/app/service"
	"github.com/upak-space/upak-auth/app/webhook"
	"github.com/upak-space/upak-auth/config"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  `Start the HTTP (Echo) API, the gRPC health endpoint and the housekeeping scheduler.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	deps := map[string]authgrpc.Pinger{"mysql": db}

	var shared webhook.KeyStore
	if cfg.Redis.Enabled() {
		client, err := webhook.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Timeout)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to redis")
		}
		defer client.Close()
		shared = webhook.NewRedisStore(client, cfg.Redis.Timeout)
		deps["redis"] = redisPinger{client: client}
	} else {
		logrus.Warn("REDIS_ADDR not set, replay protection is limited to this process")
	}

	app := buildApp(cfg, db, shared)

	scheduler := jobs.NewScheduler(app.resetTokens, cfg.Jobs.PurgeSchedule)
	if err := scheduler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start scheduler")
	}
	defer scheduler.Stop()

	healthServer := authgrpc.NewHealthServer(deps)
	go healthServer.Watch(ctx, 15*time.Second)
	go startGRPCServer(cfg, healthServer)
	defer healthServer.Stop()

	startHTTPServer(ctx, cfg, app.echo)
}

type application struct {
	echo           *echo.Echo
	resetTokens    *service.ResetTokenStore
	replayFallback *webhook.MemoryStore
	revocations    webhook.KeyStore
}

// buildApp wires repositories, services and controllers into an Echo
// instance. shared may be nil, in which case in-process stores are used.
func buildApp(cfg *config.Config, db *sql.DB, shared webhook.KeyStore) *application {
	hasher := security.NewHasher(cfg.Password.BcryptCost)
	tokens := security.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)
	cookies := security.NewCookieManager(cfg.Cookie.Name, cfg.Cookie.Domain, cfg.Cookie.Secure, cfg.JWT.TTL)

	userRepo := repository.NewUserRepository(db)
	resetTokens := service.NewResetTokenStore(repository.NewPasswordResetTokenRepository(db), cfg.Tokens.ResetTTL)

	// Replay ids and revoked sessions get separate in-process stores so a
	// webhook burst cannot evict a revoked token.
	fallback := webhook.NewMemoryStore(webhook.DefaultMemoryStoreSize)
	var revocations webhook.KeyStore = webhook.NewMemoryStore(webhook.DefaultMemoryStoreSize)
	if shared != nil {
		revocations = shared
	}

	var gateOpts []service.GateOption
	if cfg.Gate.SessionRevocation {
		gateOpts = append(gateOpts, service.WithRevocationStore(revocations))
	}
	gate := service.NewGate(tokens, cookies, userRepo, cfg.Gate, gateOpts...)

	authOpts := []service.AuthServiceOption{
		service.WithNotifier(service.NewLogNotifier(cfg.FrontendURL)),
		service.WithRequireActive(cfg.Gate.RequireActive),
	}
	if cfg.Gate.SessionRevocation {
		authOpts = append(authOpts, service.WithSessionRevoker(gate))
	}
	authService := service.NewAuthService(db, userRepo, resetTokens, hasher, tokens, cfg.Password.Policy, authOpts...)

	validator := webhook.NewValidator(
		webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance),
		webhook.NewReplayGuard(shared, fallback),
		webhook.ValidatorConfig{
			Provider:     cfg.Webhook.Provider,
			EventTTL:     cfg.Webhook.EventTTL,
			MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		},
	)

	metrics.Init()

	e := newEcho([]string{cfg.FrontendURL}, cfg.TrustedProxies)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	router := &controller.Router{
		Auth:        controller.NewAuthController(authService, gate, cookies),
		Webhook:     controller.NewWebhookController(validator, service.NewLogPaymentHandler()),
		RequireAuth: middleware.NewAuthMiddleware(gate).RequireAuth,
		RateLimit:   middleware.NewRateLimiter(cfg.Limits.RPS, cfg.Limits.Burst).Middleware,
	}
	router.Register(e)

	return &application{
		echo:           e,
		resetTokens:    resetTokens,
		replayFallback: fallback,
		revocations:    revocations,
	}
}

func newEcho(allowedOrigins []string, trustedProxies []*net.IPNet) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor(trustedProxies)

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(middleware.Metrics)
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
	}))

	return e
}

// ipExtractor resolves the client IP used for rate limiting and logs. Without
// trusted proxies X-Forwarded-For is ignored since any client can set it.
func ipExtractor(trustedProxies []*net.IPNet) echo.IPExtractor {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, network := range trustedProxies {
		opts = append(opts, echo.TrustIPRange(network))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

func startHTTPServer(ctx context.Context, cfg *config.Config, e *echo.Echo) {
	httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		errCh <- e.Start(httpAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start HTTP server")
		}
	case <-ctx.Done():
		logrus.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("HTTP server shutdown failed")
		}
	}
}

func startGRPCServer(cfg *config.Config, healthServer *authgrpc.HealthServer) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	logrus.WithField("addr", grpcAddr).Info("Starting gRPC server")
	if err := healthServer.Serve(lis); err != nil {
		logrus.WithError(err).Error("gRPC server stopped")
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
