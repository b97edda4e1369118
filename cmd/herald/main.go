package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/dispatch"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/handlers"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/publisher"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/store"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/token"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/worker"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/config"
	fieldcrypt "github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/crypto"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/database"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/monitoring"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/server"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("herald")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Herald (Social Publishing Core)")

	dbURL := config.RequireEnv("DATABASE_URL")

	// === Database Connection ===
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Token encryption at rest, enabled when a master secret is configured
	var encryptor *fieldcrypt.FieldEncryptor
	if secret := config.GetEnv("TOKEN_ENCRYPTION_SECRET", ""); secret != "" {
		var err error
		encryptor, err = fieldcrypt.DeriveFieldEncryptor([]byte(secret), "connection-tokens")
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize token encryption")
		}
		logger.Info("Token encryption at rest enabled")
	} else {
		logger.Warn("TOKEN_ENCRYPTION_SECRET not set, storing tokens in plaintext")
	}

	// Initialize Store
	st := store.NewStore(db, encryptor)
	if err := st.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("herald", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("herald", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))

	refreshCounter := metricsCollector.NewCounter("token_refreshes_total", "Token refresh outcomes", []string{"platform", "status"})
	publishCounter := metricsCollector.NewCounter("platform_publishes_total", "Platform publish outcomes", []string{"platform", "status"})
	publishDuration := metricsCollector.NewHistogram("platform_publish_duration_seconds", "Platform publish duration", []string{"platform"}, nil)
	dueGauge := metricsCollector.NewGauge("scheduler_due_posts", "Due posts seen on the last scheduler tick", []string{})

	// === Token Lifecycle Manager ===
	tokenManager := token.NewManager(st, logger)
	tokenManager.SetRefreshCounter(refreshCounter)
	registerRefreshers(tokenManager, logger)

	// === Platform Publishers ===
	registry := publisher.NewRegistry()
	registry.Register(publisher.NewTwitterPublisher())
	registry.Register(publisher.NewLinkedInPublisher())
	registry.Register(publisher.NewInstagramPublisher())
	registry.Register(publisher.NewFacebookPublisher())
	registry.Register(publisher.NewYouTubePublisher())
	registry.Register(publisher.NewDiscordPublisher())
	registry.Register(publisher.NewRedditPublisher())
	registry.Register(publisher.NewTelegramPublisher(st, logger))
	registry.Register(publisher.NewWordPressPublisher(logger))
	logger.WithField("platforms", len(registry.Platforms())).Info("Platform publishers registered")

	// === Publish Dispatcher ===
	dispatcher := dispatch.NewDispatcher(registry, st, tokenManager, st, logger)
	dispatcher.SetMetrics(publishCounter, publishDuration)

	// === Background Workers ===
	interval := time.Duration(config.GetEnvInt("SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second
	scheduler := worker.NewScheduler(st, dispatcher, logger, interval)
	scheduler.SetDueGauge(dueGauge.WithLabelValues())
	go scheduler.Start(context.Background())

	// === HTTP Server ===
	serverConfig := server.DefaultConfig("herald", config.GetEnv("HERALD_PORT", "18080"))

	app := server.SetupServiceRouter(logger, "herald", healthChecker, metricsCollector)
	app.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "running", "version": version.Version})
	})
	handlers.Init(st, dispatcher, logger)
	handlers.RegisterRoutes(app)

	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("Herald HTTP server failed")
	}
}

// registerRefreshers wires a refresher for every platform whose OAuth app
// credentials are configured. Platforms without credentials fall back to
// needs-reauth when their tokens age out.
func registerRefreshers(m *token.Manager, logger logging.Logger) {
	oauthApps := []struct {
		platform models.Platform
		envID    string
		envSec   string
		build    func(token.ClientCredentials) token.Refresher
	}{
		{models.PlatformTwitter, "TWITTER_CLIENT_ID", "TWITTER_CLIENT_SECRET",
			func(c token.ClientCredentials) token.Refresher { return token.NewTwitterRefresher(c) }},
		{models.PlatformReddit, "REDDIT_CLIENT_ID", "REDDIT_CLIENT_SECRET",
			func(c token.ClientCredentials) token.Refresher { return token.NewRedditRefresher(c) }},
		{models.PlatformLinkedIn, "LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET",
			func(c token.ClientCredentials) token.Refresher { return token.NewLinkedInRefresher(c) }},
		{models.PlatformYouTube, "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
			func(c token.ClientCredentials) token.Refresher { return token.NewYouTubeRefresher(c) }},
		{models.PlatformFacebook, "FACEBOOK_CLIENT_ID", "FACEBOOK_CLIENT_SECRET",
			func(c token.ClientCredentials) token.Refresher { return token.NewFacebookRefresher(c) }},
	}

	for _, app := range oauthApps {
		id := config.GetEnv(app.envID, "")
		secret := config.GetEnv(app.envSec, "")
		if id == "" || secret == "" {
			logger.WithField("platform", app.platform).Warn("OAuth app credentials not configured, token refresh disabled")
			continue
		}
		m.RegisterRefresher(app.platform, app.build(token.ClientCredentials{ID: id, Secret: secret}))
	}

	// Instagram's refresh grant needs no app credentials.
	m.RegisterRefresher(models.PlatformInstagram, token.NewInstagramRefresher())
}
