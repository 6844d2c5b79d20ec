package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/exafyltd/vitana-governance/internal/governance"
	"github.com/exafyltd/vitana-governance/internal/platform/auditlog"
	"github.com/exafyltd/vitana-governance/internal/platform/auth"
	"github.com/exafyltd/vitana-governance/internal/platform/config"
	"github.com/exafyltd/vitana-governance/internal/platform/httpserver"
	"github.com/exafyltd/vitana-governance/internal/platform/objectstore"
	"github.com/exafyltd/vitana-governance/internal/platform/postgres"
	"github.com/exafyltd/vitana-governance/internal/platform/routeguard"
	"github.com/exafyltd/vitana-governance/internal/platform/rulestore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.DatabaseURL,
		PingTimeout:     cfg.DatabasePingTimeout,
		MaxOpenConns:    cfg.DatabaseMaxOpen,
		MaxIdleConns:    cfg.DatabaseMaxIdle,
		ConnMaxLifetime: cfg.DatabaseMaxLifetime,
		ConnMaxIdleTime: cfg.DatabaseMaxIdleTime,
	})
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	readiness := []httpserver.ReadinessCheck{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return db.PingContext(checkCtx)
		},
	}}

	var cache rulestore.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		cache = rulestore.NewRedisCache(client)
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return client.Ping(checkCtx).Err()
			},
		})
	}
	rules := rulestore.New(db, cache, cfg.RuleCacheTTL, logger)

	pgSink, err := auditlog.NewPostgresSink(db)
	if err != nil {
		logger.Error("invalid audit sink config", "error", err)
		os.Exit(2)
	}
	sinks := auditlog.Fanout{pgSink}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := auditlog.NewKafkaSink(auditlog.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaAuditTopic,
		})
		if err != nil {
			logger.Error("invalid kafka config", "error", err)
			os.Exit(2)
		}
		defer func() { _ = kafkaSink.Close() }()
		sinks = append(sinks, kafkaSink)
	}
	audit := auditlog.NewEmitter(logger, sinks, cfg.AuditTimeout)

	evaluator := governance.NewEvaluator(logger, rules, audit)

	guard := routeguard.New(routeguard.Config{
		Environment:        cfg.Environment,
		TolerateDuplicates: cfg.TolerateDuplicateRoutes,
	}, logger, audit)

	root := chi.NewRouter()
	root.Get("/healthz", httpserver.Healthz(cfg.Service))
	root.Get("/readyz", httpserver.ReadyzWithChecks(cfg.Service, readiness...))

	api := newGovernanceAPI(logger, newStageEventStore(db), evaluator, rules, audit)
	if err := guard.Mount(root, "/api/v1/governance", api.routes(), "governance-api"); err != nil {
		logger.Error("route registration aborted", "error", err)
		os.Exit(2)
	}
	guard.Freeze()

	authenticator, err := buildAuthenticator(ctx, cfg)
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			actor := event.Subject
			if actor == "" {
				actor = "anonymous"
			}
			audit.EmitSync(ctx, auditlog.Record{
				OccurredAt:    event.Time,
				Actor:         actor,
				Action:        "governance.auth.deny",
				ResourceType:  "endpoint",
				ResourceID:    event.Method + " " + event.Path,
				CorrelationID: event.RequestID,
				Decision:      event.Reason,
				Payload: map[string]any{
					"status":      event.Status,
					"roles":       event.Roles,
					"remote_addr": event.RemoteAddr,
					"error":       event.Error,
				},
			})
			return nil
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(root)

	if cfg.MinIOEndpoint != "" {
		startArchiver(ctx, logger, cfg, db)
	}

	serverCfg := httpserver.Config{
		Service:         cfg.Service,
		Addr:            cfg.HTTPAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, cfg.Service, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildAuthenticator(ctx context.Context, cfg config.Config) (auth.Authenticator, error) {
	authCfg := auth.Config{
		Mode:          auth.Mode(cfg.AuthMode),
		RolesClaim:    "roles",
		EmailClaim:    "email",
		OIDCIssuerURL: cfg.OIDCIssuer,
		OIDCClientID:  cfg.OIDCClientID,
		DevSubject:    cfg.DevActorName,
		DevRoles:      auth.ParseRoles(cfg.DevActorRoles),
	}
	switch authCfg.Mode {
	case auth.ModeOIDC:
		return auth.NewBearerAuthenticator(ctx, authCfg)
	case auth.ModeDev:
		return auth.NewDevAuthenticator(authCfg), nil
	default:
		return nil, nil
	}
}

func startArchiver(ctx context.Context, logger *slog.Logger, cfg config.Config, db *sql.DB) {
	storeCfg := objectstore.Config{
		Endpoint:    cfg.MinIOEndpoint,
		AccessKey:   cfg.MinIOAccessKey,
		SecretKey:   cfg.MinIOSecretKey,
		Region:      cfg.MinIORegion,
		UseSSL:      cfg.MinIOUseSSL,
		BucketAudit: cfg.MinIOAuditBucket,
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	if err := objectstore.EnsureAuditBucket(ctx, client, storeCfg); err != nil {
		logger.Error("audit bucket unavailable", "error", err)
		os.Exit(1)
	}
	archiver, err := auditlog.NewArchiver(logger, db, client, storeCfg.BucketAudit)
	if err != nil {
		logger.Error("invalid archiver config", "error", err)
		os.Exit(2)
	}
	go archiver.Run(ctx, cfg.ArchiveInterval)
}
