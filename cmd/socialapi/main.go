package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	social "github.com/goliatone/go-social"
	"github.com/goliatone/go-social/activitymap"
	"github.com/goliatone/go-social/config"
	"github.com/goliatone/go-social/imagegen"
	"github.com/goliatone/go-social/middleware/session"
	"github.com/goliatone/go-social/providers/facebook"
	"github.com/goliatone/go-social/providers/instagram"
	"github.com/goliatone/go-social/providers/linkedin"
	"github.com/goliatone/go-social/providers/meta"
	"github.com/goliatone/go-social/providers/twitter"
	"github.com/goliatone/go-social/repository"
	"github.com/goliatone/go-social/storage"
)

const purgeInterval = 5 * time.Minute

type App struct {
	config   *config.Config
	bunDB    *bun.DB
	repo     *repository.Manager
	metrics  *social.Metrics
	adapters *social.AdapterRegistry
	states   *social.StateRegistry
	srv      router.Server[*fiber.App]
	logger   *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("socialapi"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	fmt.Println("============")
	fmt.Println(print.MaybeHighlightJSON(cfg.Redacted()))
	fmt.Println("============")

	app := &App{
		config:  cfg,
		logger:  lgr,
		metrics: social.NewMetrics(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithAdapters(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	go PurgeStates(ctx, app)

	if err := app.srv.Serve(cfg.HTTPAddr); err != nil {
		panic(err)
	}

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		app.GetLogger("app").Error("server shutdown failed", "error", err)
	}
	if err := app.bunDB.Close(); err != nil {
		app.GetLogger("app").Error("database close failed", "error", err)
	}
}

// WithPersistence opens the database, applies migrations and builds the
// repositories. postgres:// DSNs use pgx, everything else sqlite.
func WithPersistence(ctx context.Context, app *App) error {
	dsn := app.config.DSN

	var db *bun.DB
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	} else {
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return err
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	sealer, err := repository.NewSealerFromHex(app.config.TokenKey)
	if err != nil {
		return err
	}
	if app.config.TokenKey == "" {
		app.GetLogger("persistence").Warn("SOCIAL_TOKEN_KEY not set, provider tokens are stored unsealed")
	}

	manager := repository.NewRepositoryManager(db, repository.WithSealer(sealer))
	manager.MustValidate()

	applied, err := manager.Migrate(ctx)
	if err != nil {
		return err
	}
	app.GetLogger("persistence").Info("migrations applied", "count", len(applied), "names", applied)

	app.bunDB = db
	app.repo = manager
	return nil
}

// WithAdapters registers every provider whose credentials are configured.
func WithAdapters(ctx context.Context, app *App) error {
	cfg := app.config
	app.adapters = social.NewAdapterRegistry()

	client := func(provider social.Provider) *http.Client {
		return social.NewHTTPClient(provider,
			social.WithTimeout(cfg.HTTPTimeout),
			social.WithRateLimit(5, 10),
			social.WithTransportMetrics(app.metrics),
		)
	}

	if cfg.TwitterEnabled() {
		app.adapters.Register(twitter.New(twitter.Config{
			ConsumerKey:    cfg.Twitter.APIKey,
			ConsumerSecret: cfg.Twitter.APISecret,
			CallbackURL:    cfg.CallbackURL(social.ProviderTwitter),
			HTTPClient:     client(social.ProviderTwitter),
			Logger:         app.GetLogger("twitter"),
		}))
	}

	if cfg.FacebookEnabled() {
		app.adapters.Register(facebook.New(facebook.Config{
			Config: meta.Config{
				AppID:       cfg.Facebook.AppID,
				AppSecret:   cfg.Facebook.AppSecret,
				CallbackURL: cfg.CallbackURL(social.ProviderFacebook),
				HTTPClient:  client(social.ProviderFacebook),
			},
			Logger: app.GetLogger("facebook"),
		}))

		igConfig := instagram.Config{
			Config: meta.Config{
				AppID:       cfg.Facebook.AppID,
				AppSecret:   cfg.Facebook.AppSecret,
				CallbackURL: cfg.CallbackURL(social.ProviderInstagram),
				HTTPClient:  client(social.ProviderInstagram),
			},
			Logger: app.GetLogger("instagram"),
		}

		if cfg.MinIO.Enabled() {
			host, err := storage.NewMinIOHost(storage.Config{
				Endpoint:  cfg.MinIO.Endpoint,
				AccessKey: cfg.MinIO.AccessKey,
				SecretKey: cfg.MinIO.SecretKey,
				Bucket:    cfg.MinIO.Bucket,
				UseSSL:    cfg.MinIO.UseSSL,
				PublicURL: cfg.MinIO.PublicURL,
				URLExpiry: cfg.MinIO.URLExpiry,
				Logger:    app.GetLogger("storage"),
			})
			if err != nil {
				return err
			}
			igConfig.MediaHost = host
		}

		if cfg.Bedrock.Enabled() {
			generator, err := imagegen.NewBedrock(ctx, imagegen.Config{
				Region:  cfg.Bedrock.Region,
				ModelID: cfg.Bedrock.ImageModel,
				Logger:  app.GetLogger("imagegen"),
			})
			if err != nil {
				return err
			}
			igConfig.ImageGenerator = generator
		}

		app.adapters.Register(instagram.New(igConfig))
	}

	if cfg.LinkedInEnabled() {
		app.adapters.Register(linkedin.New(linkedin.Config{
			ClientID:     cfg.LinkedIn.ClientID,
			ClientSecret: cfg.LinkedIn.ClientSecret,
			CallbackURL:  cfg.CallbackURL(social.ProviderLinkedIn),
			HTTPClient:   client(social.ProviderLinkedIn),
			Logger:       app.GetLogger("linkedin"),
		}))
	}

	app.states = social.NewStateRegistry(app.repo.States(),
		social.WithStateTTL(cfg.StateTTL),
		social.WithStateLogger(app.GetLogger("state")),
	)

	app.GetLogger("app").Info("providers enabled", "providers", app.adapters.Enabled())
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.config

	activity := social.ActivitySinkFunc(func(_ context.Context, event social.ActivityEvent) error {
		record := activitymap.Normalize(event)
		app.GetLogger("activity").Info(record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	})

	connector := social.NewConnector(app.adapters, app.states, app.repo.Connections(),
		social.WithConnectorLogger(app.GetLogger("connector")),
		social.WithConnectorActivity(activity),
		social.WithConnectorMetrics(app.metrics),
	)

	publisher := social.NewPublisher(app.adapters, app.repo.Connections(),
		social.WithPublisherLogger(app.GetLogger("publisher")),
		social.WithPublisherActivity(activity),
		social.WithPublisherMetrics(app.metrics),
	)

	status := social.NewStatusService(app.adapters, app.repo.Connections(),
		social.WithStatusLogger(app.GetLogger("status")),
	)

	requireSession := session.New(session.Config{
		SigningKey: []byte(cfg.JWTSecret),
		Logger:     app.GetLogger("session"),
	})

	controller := social.NewHTTPController(connector, publisher, status, social.HTTPConfig{
		DashboardURL:   cfg.DashboardURL(),
		RequireSession: requireSession,
		Logger:         app.GetLogger("http"),
	})

	app.srv = router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		f := router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:           "go-social",
			EnablePrintRoutes: false,
			PassLocalsToViews: false,
			BodyLimit:         (social.MaxVideoBytes+2)/3*4 + (4 << 20), // base64 video in JSON plus fields
			ReadTimeout:       time.Minute,
			WriteTimeout:      time.Minute,
		}))
		f.Get("/metrics", adaptor.HTTPHandler(app.metrics.Handler()))
		return f
	})

	app.srv.Router().WithLogger(app.GetLogger("router"))

	api := app.srv.Router().Group("/api/social")
	controller.RegisterRoutes(api)

	return nil
}

// PurgeStates removes expired oauth states until ctx is done.
func PurgeStates(ctx context.Context, app *App) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	logger := app.GetLogger("state")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.states.Purge(ctx)
			if err != nil {
				logger.Error("purging oauth states failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired oauth states", "count", n)
			}
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
