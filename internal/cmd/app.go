package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/kavelund/accessgate/internal/access"
	"github.com/kavelund/accessgate/internal/config"
	"github.com/kavelund/accessgate/internal/database"
	"github.com/kavelund/accessgate/internal/httphelper"
	"github.com/kavelund/accessgate/pkg/log"
)

var (
	BuildVersion = "master" //nolint:gochecknoglobals
	BuildCommit  = ""       //nolint:gochecknoglobals
	BuildDate    = ""       //nolint:gochecknoglobals
	SentryDSN    = ""       //nolint:gochecknoglobals
)

type App struct {
	config      config.Config
	database    database.Database
	rules       *access.Rules
	sources     *access.Sources
	limiter     *access.WindowLimiter
	pipeline    *access.Pipeline
	auditStore  access.AuditStore
	expirations *access.ExpirationMonitor
	sentry      *sentry.Client
	logCloser   func()
}

func NewApp() (*App, error) {
	conf, errConfig := config.Read(cfgFile)
	if errConfig != nil {
		slog.Error("Failed to read config", log.ErrAttr(errConfig))

		return nil, errConfig
	}

	return &App{config: conf}, nil
}

func (a *App) Init(ctx context.Context) error {
	// Build-time DSN can be overridden from the environment.
	if SentryDSN == "" {
		if value, found := os.LookupEnv("SENTRY_DSN"); found && value != "" {
			SentryDSN = value
		}
	}

	if SentryDSN == "" {
		SentryDSN = a.config.Sentry.DSN
	}

	a.setupSentry()

	a.logCloser = log.MustCreateLogger(ctx, a.config.Log.File, a.config.Log.Level, SentryDSN != "", BuildVersion)

	slog.Info("Starting accessgate...",
		slog.String("version", BuildVersion),
		slog.String("commit", BuildCommit),
		slog.String("date", BuildDate))

	dbConn := database.New(a.config.DB.DSN, a.config.DB.AutoMigrate, a.config.DB.LogQueries)
	if errConnect := dbConn.Connect(ctx); errConnect != nil {
		slog.Error("Cannot initialize database", log.ErrAttr(errConnect))

		return errConnect
	}
	a.database = dbConn

	accessConf := a.config.Access

	ruleStore := access.NewRuleRepository(a.database)
	a.auditStore = access.NewAuditRepository(a.database)

	a.rules = access.NewRules(ruleStore)
	a.sources = access.NewSources(ruleStore, httphelper.NewClient(a.config.HTTP.ClientTimeout))
	a.limiter = access.NewWindowLimiter(accessConf.RateLimitWindow, accessConf.RateLimitMax)
	for class, limit := range accessConf.RateClasses {
		a.limiter.SetClassLimit(class, limit.Window, limit.Max)
	}

	a.expirations = access.NewExpirationMonitor(a.rules, a.limiter)

	a.pipeline = access.NewPipeline(
		access.NewBlacklistChecker(ruleStore, accessConf.StoreTimeout),
		access.NewWhitelistChecker(ruleStore, accessConf.StoreTimeout),
		a.limiter,
		access.NewAuditor(a.auditStore, accessConf.CapturedHeaders, accessConf.AuditTimeout),
		accessConf.WhitelistEnabled)

	return nil
}

func (a *App) setupSentry() {
	if SentryDSN == "" {
		slog.Info("Sentry.io support is disabled. To enable at runtime, set SENTRY_DSN.")

		return
	}

	sentryClient, err := log.NewSentryClient(SentryDSN, a.config.Sentry.Tracing,
		a.config.Sentry.SampleRate, BuildVersion, a.config.General.Mode)
	if err != nil {
		slog.Error("Failed to setup sentry client")
	} else {
		slog.Info("Sentry.io support is enabled.")
		a.sentry = sentryClient
	}
}

func (a *App) StartBackground(ctx context.Context) {
	conf := a.config.Access

	go func() {
		a.expirations.Update(ctx)
		a.sources.Sync(ctx)

		cleanupTicker := time.NewTicker(conf.CleanupInterval)
		sourceTicker := time.NewTicker(conf.SourceInterval)

		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				a.expirations.Update(ctx)
			case <-sourceTicker.C:
				go a.sources.Sync(ctx)
			}
		}
	}()
}

func (a *App) Serve(rootCtx context.Context) error {
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf := a.config

	router := httphelper.CreateRouter(httphelper.RouterOpts{
		HTTPLogEnabled:    conf.HTTP.LogHTTPEnabled,
		LogLevel:          conf.Log.Level,
		Mode:              conf.General.Mode,
		SentryDSN:         SentryDSN,
		Version:           BuildVersion,
		PrometheusEnabled: conf.HTTP.PrometheusEnabled,
		HTTPCORSEnabled:   conf.HTTP.CORSEnabled,
		CORSOrigins:       conf.HTTP.CORSOrigins,
	})

	if conf.Access.ProtectAPI {
		router.Use(access.Middleware(a.pipeline, "api", true))
	}

	access.NewHandler(router, a.rules, a.sources, a.auditStore, a.pipeline)

	httpServer := httphelper.NewServer(conf.HTTP.Addr(), router)

	go func() {
		<-ctx.Done()

		slog.Info("Shutting down HTTP service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		if errShutdown := httpServer.Shutdown(shutdownCtx); errShutdown != nil { //nolint:contextcheck
			slog.Error("Error shutting down http service", log.ErrAttr(errShutdown))
		}
	}()

	slog.Info("Starting HTTP server", slog.String("address", conf.HTTP.Addr()))

	errServe := httpServer.ListenAndServe()
	if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		slog.Error("HTTP server returned error", log.ErrAttr(errServe))
	}

	<-ctx.Done()

	slog.Info("Exiting...")

	return nil
}

func (a *App) Close(_ context.Context) error {
	if a.database != nil {
		if errClose := a.database.Close(); errClose != nil {
			slog.Error("Failed to close database cleanly", log.ErrAttr(errClose))
		}
	}

	if a.sentry != nil {
		a.sentry.Flush(2 * time.Second)
	}

	if a.logCloser != nil {
		a.logCloser()
	}

	return nil
}
