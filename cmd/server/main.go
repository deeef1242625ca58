// Package main initializes and starts the pairing and sync server,
// setting up configuration, logging, the database, repositories,
// services, handlers, and optional TLS.
package main

import (
	"cmp"
	"context"
	"fmt"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/krypkey/krypkey/internal/config"
	"github.com/krypkey/krypkey/internal/db"
	"github.com/krypkey/krypkey/internal/logger"
	"github.com/krypkey/krypkey/internal/repository"
	"github.com/krypkey/krypkey/internal/server/handler/http"
	"github.com/krypkey/krypkey/internal/service"
	"github.com/krypkey/krypkey/internal/token"
	"github.com/krypkey/krypkey/internal/transit"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	options := config.Parse()

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}

	sessionRepo := repository.NewPostgresSessionRepository(postgresDB)
	relayRepo := repository.NewPostgresRelayRepository(postgresDB)
	credentialRepo := repository.NewPostgresCredentialRepository(postgresDB)
	userRepo := repository.NewPostgresUserRepository(postgresDB)

	cipher := transit.XOR{}
	tokens := token.NewManager(options.JWTSecret, 0)

	authService := service.NewAuth(userRepo, tokens)
	brokerService := service.NewBroker(sessionRepo, tokens,
		time.Duration(options.SessionExpirySeconds)*time.Second)
	credentialService := service.NewCredentials(credentialRepo, cipher)
	relayService := service.NewRelay(sessionRepo, relayRepo, credentialService, cipher)

	// Expired sessions and their queues are swept in the background; the
	// broker drops its cached root secrets for the reaped ids.
	db.StartSessionReaper(context.Background(), postgresDB, time.Minute, zapLogger,
		func(sessionIDs []string) {
			for _, id := range sessionIDs {
				brokerService.EvictSecret(id)
			}
		})

	userHandler := &http.UserHandler{Auth: authService}
	sessionHandler := &http.SessionHandler{Broker: brokerService}
	relayHandler := &http.RelayHandler{Relay: relayService}
	credentialHandler := &http.CredentialHandler{Credentials: credentialService}

	router := http.NewRouter(userHandler, sessionHandler, relayHandler,
		credentialHandler, authService, zapLogger)

	server := &nethttp.Server{
		Addr:    options.Port,
		Handler: router,
	}

	if options.TLSCert != "" && options.TLSKey != "" {
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
		if err := server.ListenAndServeTLS(options.TLSCert, options.TLSKey); err != nil {
			zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
		}
		return
	}
	zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
	if err := server.ListenAndServe(); err != nil {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}
}
