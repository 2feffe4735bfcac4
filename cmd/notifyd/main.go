package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"notifysync/config"
	"notifysync/internal/api"
	"notifysync/internal/auth"
	"notifysync/internal/db"
	"notifysync/internal/directory"
	"notifysync/internal/dispatch"
	"notifysync/internal/logging"
	"notifysync/internal/notification"
	"notifysync/internal/push"
	"notifysync/internal/realtime"
	"notifysync/internal/registrar"
	"notifysync/internal/session"
	"notifysync/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger := logging.New(cfg.Log)
	log := logging.Component(logger, "main")
	log.WithField("path", configPath).Info("configuration loaded")

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logging.Component(logger, "db"))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	remote := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The state store outlives the session manager so the final reset on
	// shutdown still reaches it.
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()
	notifications := notification.NewStore(remote, logging.Component(logger, "notifications"))
	notifications.Start(storeCtx)

	presenter := dispatch.NewLogPresenter(logging.Component(logger, "presenter"))

	platform := registrar.NewHostPlatform(cfg.Device, logging.Component(logger, "platform"))
	reg, err := registrar.New(cfg.Push.ProjectID,
		platform,
		registrar.NewExpoTokenProvider(cfg.Push.ExpoHost, platform),
		presenter,
		logging.Component(logger, "registrar"))
	if err != nil {
		log.WithError(err).Fatal("failed to create registrar")
	}

	authClient := auth.NewClient(cfg.Auth, logging.Component(logger, "auth"))
	bridge := realtime.NewBridge(cfg.Realtime, cfg.Auth.APIKey, authClient.AccessToken, logging.Component(logger, "realtime"))

	manager := session.NewManager(session.Deps{
		Auth:      authClient,
		Lister:    remote,
		Subs:      session.BridgeSubscriber{Bridge: bridge},
		Store:     notifications,
		Registrar: reg,
		Publisher: directory.New(remote, logging.Component(logger, "directory")),
	}, cfg.Auth.PollInterval, logging.Component(logger, "session"))

	sender, err := push.NewSender(ctx, cfg.Push)
	if err != nil {
		log.WithError(err).Warn("push sender unavailable; test pushes disabled")
	}

	ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	router := api.NewRouter(cfg.Server, api.Deps{
		Notifications: notifications,
		Session:       manager,
		Auth:          authClient,
		Directory:     remote,
		Dispatcher:    dispatch.New(cfg.Handler, presenter, notifications, logging.Component(logger, "dispatch")),
		Sender:        sender,
		Cache:         cache.New(ttl, 2*ttl),
	}, logging.Component(logger, "api"))

	managerDone := make(chan struct{})
	go func() {
		manager.Run(ctx)
		close(managerDone)
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		log.WithField("port", cfg.Server.Port).Info("control API starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("control API stopped")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("control API shutdown")
	}

	cancel()
	select {
	case <-managerDone:
	case <-shutdownCtx.Done():
		log.Warn("session manager did not stop in time")
	}
	stopStore()

	log.Info("agent stopped")
}
