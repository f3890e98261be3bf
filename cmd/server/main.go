package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"intake/internal/auth/device"
	authhandler "intake/internal/auth/handler"
	authmetrics "intake/internal/auth/metrics"
	authservice "intake/internal/auth/service"
	agentstore "intake/internal/auth/store/agent"
	"intake/internal/auth/store/revocation"
	sessionstore "intake/internal/auth/store/session"
	customerhandler "intake/internal/customer/handler"
	customermetrics "intake/internal/customer/metrics"
	customermodels "intake/internal/customer/models"
	customerservice "intake/internal/customer/service"
	customerstore "intake/internal/customer/store"
	drafthandler "intake/internal/draft/handler"
	draftmetrics "intake/internal/draft/metrics"
	draftservice "intake/internal/draft/service"
	draftstore "intake/internal/draft/store"
	"intake/internal/health"
	jwttoken "intake/internal/jwt_token"
	ocrclient "intake/internal/ocr/client"
	ocrhandler "intake/internal/ocr/handler"
	ocrmetrics "intake/internal/ocr/metrics"
	ocrservice "intake/internal/ocr/service"
	"intake/internal/platform/config"
	"intake/internal/platform/httpserver"
	"intake/internal/platform/logger"
	platformmetrics "intake/internal/platform/metrics"
	"intake/internal/platform/postgres"
	"intake/internal/platform/redis"
	guardhandler "intake/internal/sessionguard/handler"
	guardmetrics "intake/internal/sessionguard/metrics"
	guardmodels "intake/internal/sessionguard/models"
	guardservice "intake/internal/sessionguard/service"
	"intake/internal/sessionguard/store/actions"
	"intake/pkg/platform/audit"
	"intake/pkg/platform/audit/publisher"
	"intake/pkg/platform/audit/sink/kafka"
	auditmemory "intake/pkg/platform/audit/store/memory"
	auditpostgres "intake/pkg/platform/audit/store/postgres"
	"intake/pkg/platform/circuit"
	authmw "intake/pkg/platform/middleware/auth"
	"intake/pkg/platform/middleware/metadata"
	"intake/pkg/platform/middleware/ratelimit"
	"intake/pkg/platform/middleware/request"
	"intake/pkg/platform/middleware/requesttime"
	"intake/pkg/platform/retry"
)

const (
	shutdownTimeout = 15 * time.Second
	janitorInterval = 5 * time.Minute
	jwtAudience     = "intake-web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// infra holds the optional backing services. Nil fields mean in-memory fallbacks.
type infra struct {
	redis    *redis.Client
	postgres *postgres.DB
	kafka    *kafka.Sink
}

func (i *infra) close(log *slog.Logger) {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if i.postgres != nil {
		if err := i.postgres.Close(); err != nil {
			log.Warn("failed to close postgres", "error", err)
		}
	}
}

func connect(ctx context.Context, cfg *config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	in.redis = rc

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if db != nil {
		in.postgres = db
		if err := db.Migrate(ctx); err != nil {
			in.close(log)
			return nil, err
		}
	}

	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink, err := kafka.New(ctx, kafka.Config{
			Brokers:           cfg.Audit.KafkaBrokers,
			Topic:             cfg.Audit.KafkaTopic,
			ClientID:          "intake",
			Partitions:        3,
			ReplicationFactor: 1,
		})
		if err != nil {
			in.close(log)
			return nil, err
		}
		in.kafka = sink
	}

	log.Info("backing services",
		"redis", in.redis != nil,
		"postgres", in.postgres != nil,
		"kafka", in.kafka != nil,
	)
	return in, nil
}

func run(ctx context.Context, cfg *config.Server, log *slog.Logger) error {
	in, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close(log)

	clock := clockwork.NewRealClock()
	reg := prometheus.DefaultRegisterer
	jan := &janitor{logger: log}

	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	if in.postgres != nil {
		auditStore = auditpostgres.New(in.postgres.SQL)
	}
	auditOpts := []publisher.Option{
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithLogger(log),
	}
	if in.kafka != nil {
		auditOpts = append(auditOpts, publisher.WithSinks(in.kafka))
	}
	auditor := publisher.NewPublisher(auditStore, auditOpts...)
	defer auditor.Close()

	// Auth
	authMetrics := authmetrics.New(reg)
	var (
		sessions authservice.SessionStore
		trl      authservice.TokenRevocationList
	)
	switch {
	case in.redis != nil:
		sessions = sessionstore.NewRedis(in.redis.Client)
		redisTRL := revocation.NewRedisTRL(in.redis.Client, revocation.WithCheckObserver(authMetrics.ObserveTRLCheck))
		defer redisTRL.Close()
		trl = redisTRL
	case in.postgres != nil:
		memSessions := sessionstore.New()
		jan.add("sessions", func(ctx context.Context) (int64, error) {
			n, err := memSessions.DeleteExpired(ctx, clock.Now())
			return int64(n), err
		})
		sessions = memSessions
		pgTRL := revocation.NewPostgresTRL(in.postgres.SQL)
		jan.add("token_revocations", pgTRL.DeleteExpired)
		trl = pgTRL
	default:
		memSessions := sessionstore.New()
		jan.add("sessions", func(ctx context.Context) (int64, error) {
			n, err := memSessions.DeleteExpired(ctx, clock.Now())
			return int64(n), err
		})
		sessions = memSessions
		memTRL := revocation.NewInMemoryTRL()
		jan.add("token_revocations", func(context.Context) (int64, error) {
			return int64(memTRL.Sweep()), nil
		})
		trl = memTRL
	}

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, jwtAudience)
	authSvc := authservice.New(agentstore.New(), sessions, trl, jwtService,
		authservice.WithLogger(log),
		authservice.WithAuditor(auditor),
		authservice.WithMetrics(authMetrics),
		authservice.WithTokenTTL(cfg.Auth.TokenTTL),
		authservice.WithDeviceService(device.NewService(true)),
	)
	if cfg.Auth.SeedAgentEmail != "" {
		if _, err := authSvc.SeedAgent(ctx, cfg.Auth.SeedAgentEmail, cfg.Auth.SeedAgentPass, cfg.Auth.SeedAgentName); err != nil {
			return err
		}
		log.Info("seeded agent", "email", cfg.Auth.SeedAgentEmail)
	}

	// Drafts
	var drafts draftservice.Store
	switch {
	case in.redis != nil:
		drafts = draftstore.NewRedis(in.redis.Client, cfg.Draft.TTL)
	case in.postgres != nil:
		pgDrafts := draftstore.NewPostgres(in.postgres.SQL, cfg.Draft.TTL)
		jan.add("drafts", pgDrafts.DeleteExpired)
		drafts = pgDrafts
	default:
		drafts = draftstore.NewInMemory(draftstore.WithMemoryTTL(cfg.Draft.TTL))
	}
	draftManager := draftservice.NewManager(drafts,
		draftservice.WithClock(clock),
		draftservice.WithDebounce(cfg.Draft.Debounce),
		draftservice.WithStaleAfter(cfg.Draft.StaleAfter),
		draftservice.WithLogger(log),
		draftservice.WithMetrics(draftmetrics.New(reg)),
		draftservice.WithAuditor(auditor),
		draftservice.WithForm(customermodels.FormName, customermodels.DraftDefaults()),
	)

	// Session guard
	hours, err := guardservice.ParseBusinessHours(
		cfg.Guard.BusinessHoursStart,
		cfg.Guard.BusinessHoursEnd,
		cfg.Guard.BusinessDays,
		cfg.Guard.Timezone,
		cfg.Guard.EnforceHours,
	)
	if err != nil {
		return err
	}
	var counter guardservice.ActionCounter = actions.NewInMemoryCounter()
	if in.redis != nil {
		counter = actions.NewRedisCounter(in.redis.Client)
	}
	terminator := guardservice.NewSessionTerminator(authSvc,
		guardservice.WithDraftPurger(draftManager),
		guardservice.WithTerminatorAuditor(auditor),
		guardservice.WithTerminatorLogger(log),
	)
	registry := guardservice.NewRegistry(terminator, counter,
		guardservice.WithConfig(guardmodels.Config{
			InactivityTimeout:   cfg.Guard.InactivityTimeout,
			WarningDuration:     cfg.Guard.WarningDuration,
			OfflineTimeout:      cfg.Guard.OfflineTimeout,
			HeartbeatTimeout:    cfg.Guard.HeartbeatTimeout,
			ScrollDebounce:      cfg.Guard.ScrollDebounce,
			MaxActionsPerMinute: cfg.Guard.MaxActionsPerMinute,
			LoginPath:           cfg.LoginPath,
		}),
		guardservice.WithClock(clock),
		guardservice.WithBusinessHours(hours),
		guardservice.WithAuditor(auditor),
		guardservice.WithLogger(log),
		guardservice.WithMetrics(guardmetrics.New(reg)),
	)

	// OCR
	strategy, err := retry.ParseStrategy(cfg.OCR.RetryStrategy)
	if err != nil {
		return err
	}
	ocrMetrics := ocrmetrics.New(reg)
	relay := ocrclient.New(cfg.OCR.WebhookURL,
		ocrclient.WithHTTPClient(&http.Client{Timeout: cfg.OCR.Timeout}),
		ocrclient.WithRetryPolicy(retry.Policy{
			Strategy:         strategy,
			MaxRetries:       cfg.OCR.MaxRetries,
			BaseDelay:        cfg.OCR.RetryBaseDelay,
			MaxDelay:         cfg.OCR.RetryMaxDelay,
			RateLimitBackoff: 5 * time.Second,
		}),
		ocrclient.WithBreaker(circuit.New("ocr_webhook",
			circuit.WithFailureThreshold(cfg.OCR.BreakerFailures),
			circuit.WithCooldown(cfg.OCR.BreakerCooldown),
		)),
		ocrclient.WithLogger(log),
		ocrclient.WithMetrics(ocrMetrics),
	)
	ocrSvc := ocrservice.New(relay,
		ocrservice.WithDrafts(draftManager, customermodels.FormName),
		ocrservice.WithMaxDocumentBytes(cfg.OCR.MaxDocumentBytes),
		ocrservice.WithBatchConcurrency(cfg.OCR.BatchConcurrency),
		ocrservice.WithClock(clock),
		ocrservice.WithAuditor(auditor),
		ocrservice.WithLogger(log),
		ocrservice.WithMetrics(ocrMetrics),
	)

	// Customers
	var customers customerservice.Store = customerstore.NewInMemory()
	if in.postgres != nil {
		customers = customerstore.NewPostgres(in.postgres.Pool)
	}
	customerSvc := customerservice.New(customers,
		customerservice.WithDrafts(draftManager),
		customerservice.WithClock(clock),
		customerservice.WithAuditor(auditor),
		customerservice.WithLogger(log),
		customerservice.WithMetrics(customermetrics.New(reg)),
	)

	// HTTP
	httpMetrics := platformmetrics.New(reg)
	loginLimiter := ratelimit.PerMinute(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst, ratelimit.WithLogger(log))
	ocrLimiter := ratelimit.PerMinute(cfg.OCR.PerMinute, cfg.OCR.PerMinute/3+1, ratelimit.WithLogger(log))
	jan.add("rate_limit_buckets", func(context.Context) (int64, error) {
		return int64(loginLimiter.Sweep(time.Hour) + ocrLimiter.Sweep(time.Hour)), nil
	})

	healthOpts := []health.Option{}
	if in.redis != nil {
		healthOpts = append(healthOpts, health.WithCheck("redis", in.redis))
	}
	if in.postgres != nil {
		healthOpts = append(healthOpts, health.WithCheck("postgres", in.postgres))
	}

	authHandler := authhandler.New(authSvc, registry, log,
		authhandler.WithCookie(cfg.Auth.CookieName, cfg.Auth.CookieSecure),
		authhandler.WithLoginPath(cfg.LoginPath),
		authhandler.WithGuardStarter(registry),
	)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware(clock))
	r.Use(request.Logger(log))
	r.Use(httpMetrics.Middleware)

	health.New(log, healthOpts...).Register(r)
	r.Method(http.MethodGet, "/metrics", httpMetrics.Handler())
	r.Group(func(r chi.Router) {
		r.Use(loginLimiter.Middleware)
		authHandler.RegisterPublic(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), authSvc, authSvc,
			authmw.WithCookieName(cfg.Auth.CookieName),
			authmw.WithLoginPath(cfg.LoginPath),
			authmw.WithLogger(log),
		))
		authHandler.Register(r)

		guardHandler := guardhandler.New(registry, log,
			guardhandler.WithCookieName(cfg.Auth.CookieName),
			guardhandler.WithLoginPath(cfg.LoginPath),
		)
		r.Group(func(r chi.Router) {
			r.Use(guardHandler.Contact)
			guardHandler.Register(r)
			drafthandler.New(draftManager, log).Register(r)
			customerhandler.New(customerSvc, log).Register(r)
			r.Group(func(r chi.Router) {
				r.Use(ocrLimiter.Middleware)
				ocrhandler.New(ocrSvc, log).Register(r)
			})
		})
	})

	srv := httpserver.New(cfg.Addr, r)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, log, shutdownTimeout)
	})
	g.Go(func() error {
		return jan.run(gctx, clock, janitorInterval)
	})
	err = g.Wait()

	// Guards stop without revoking; drafts flush so a restart resumes them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	registry.Shutdown(shutdownCtx)
	if ferr := draftManager.FlushAll(shutdownCtx); ferr != nil {
		log.Warn("failed to flush drafts at shutdown", "error", ferr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
