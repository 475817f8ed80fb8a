// Package app wires the configuration, storage, credentials, transports and
// background workers together and runs them until shutdown.
package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/config"
	"github.com/patric-chuzhbe/tasktracker/internal/credentials"
	"github.com/patric-chuzhbe/tasktracker/internal/db/jsondb"
	"github.com/patric-chuzhbe/tasktracker/internal/db/memorystorage"
	"github.com/patric-chuzhbe/tasktracker/internal/db/postgresdb"
	"github.com/patric-chuzhbe/tasktracker/internal/db/storage"
	"github.com/patric-chuzhbe/tasktracker/internal/grpcserver"
	"github.com/patric-chuzhbe/tasktracker/internal/ipchecker"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/router"
	"github.com/patric-chuzhbe/tasktracker/internal/service"
	"github.com/patric-chuzhbe/tasktracker/internal/tokenpurger"
)

const shutdownTimeout = 10 * time.Second

// App holds everything the task tracker needs at run time.
type App struct {
	cfg          *config.Config
	db           storage.Storage
	tokenPurger  *tokenpurger.TokenPurger
	httpHandler  http.Handler
	grpcServer   *grpc.Server
	grpcListener net.Listener
}

// New loads the configuration, initializes the logger and builds every
// component. Nothing is listening until Run is called.
func New(configOptions ...config.InitOption) (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New(configOptions...)
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if app.cfg.UsesDefaultSigningKey() {
		logger.Log.Warnln("TOKEN_SIGNING_SECRET_KEY is not set: tokens are signed with the built-in development key")
	}

	app.db, err = openStorage(app.cfg)
	if err != nil {
		return nil, err
	}

	if err := app.build(); err != nil {
		return nil, errors.Join(err, app.db.Close())
	}

	return app, nil
}

// build creates everything that sits on top of the opened storage.
func (a *App) build() error {
	sessions, err := NewCredentials(a.cfg, a.db)
	if err != nil {
		return err
	}
	guard := auth.New(sessions)

	if a.cfg.LegacyUpdateErrors {
		logger.Log.Warnln("LEGACY_UPDATE_ERRORS is on: invalid update values are answered with 500")
	}
	tasks := service.New(a.db, service.WithLegacyUpdateErrors(a.cfg.LegacyUpdateErrors))

	checker, err := ipchecker.New(a.cfg.TrustedSubnet, ipchecker.WithTrustProxyHeaders(a.cfg.TrustProxyHeaders))
	if err != nil {
		return err
	}

	a.httpHandler, err = router.New(
		tasks,
		sessions,
		guard,
		a.db,
		checker,
		router.WithRateLimit(a.cfg.RateLimit),
	).Handler()
	if err != nil {
		return err
	}

	if a.cfg.GRPCRunAddr != "" {
		a.grpcServer, a.grpcListener, err = grpcserver.NewGRPCServer(
			a.cfg.GRPCRunAddr,
			grpcserver.NewTaskHandler(tasks, a.db, checker),
			guard,
		)
		if err != nil {
			return err
		}
	}

	a.tokenPurger = tokenpurger.New(a.db, a.cfg.TokenPurgeInterval)

	return nil
}

// NewCredentials builds the credentials service from the token settings.
func NewCredentials(cfg *config.Config, db storage.Storage) (*credentials.Service, error) {
	signingKey, err := base64.URLEncoding.DecodeString(cfg.TokenSigningSecretKey)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/app/app.go/NewCredentials(): error while `base64.URLEncoding.DecodeString()` calling: %w",
			err,
		)
	}

	return credentials.New(
		db,
		db,
		signingKey,
		cfg.TokenTTL,
		credentials.WithTokenCache(cfg.TokenCacheSize, cfg.TokenCacheTTL),
	), nil
}

// Run serves HTTP (and gRPC when configured) until ctx is cancelled, then
// shuts everything down and closes the storage.
func (a *App) Run(ctx context.Context) error {
	purgerCtx, stopPurger := context.WithCancel(ctx)
	defer stopPurger()
	a.tokenPurger.Run(purgerCtx)
	a.tokenPurger.ListenErrors(func(err error) {
		logger.Log.Debugln("Error passed from the `a.tokenPurger.ListenErrors()`:", zap.Error(err))
	})

	server := &http.Server{
		Addr:              a.cfg.RunAddr,
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrCh := make(chan error, 2)
	go func() {
		logger.Log.Infoln("server running", "RunAddr", a.cfg.RunAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	if a.grpcServer != nil {
		go func() {
			logger.Log.Infoln("gRPC server running", "GRPCRunAddr", a.grpcListener.Addr().String())
			if err := a.grpcServer.Serve(a.grpcListener); err != nil {
				serverErrCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Saving database and exiting...")
	case err := <-serverErrCh:
		runErr = fmt.Errorf("server error: %w", err)
	}

	stopPurger()
	<-a.tokenPurger.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown error: %w", err))
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	return errors.Join(runErr, a.db.Close())
}

// Close flushes the logger.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

// openStorage is replaced in tests.
var openStorage = OpenStorage

// OpenStorage picks PostgreSQL when a DSN is configured, then the JSON file
// store, then the in-memory store.
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		return postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
			cfg.MigrationsDir,
		)

	case models.StorageTypeFile:
		return jsondb.New(cfg.DBFileName)
	}

	return memorystorage.New()
}
