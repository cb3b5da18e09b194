package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ackg/activities"
	"ackg/auth"
	"ackg/config"
	"ackg/db"
	"ackg/gallery"
	"ackg/handlers"
	"ackg/identity"
	"ackg/live"
	"ackg/storage"

	"github.com/gorilla/sessions"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the website and admin console",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.AppConfig

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	auth.InitStore()

	objects, err := newObjectStore(cfg)
	if err != nil {
		return err
	}
	authenticator, err := newAuthenticator(cfg, conn, auth.Store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := live.NewHub(logger)
	go hub.Run(ctx)

	drafts := gallery.NewRegistry(gallery.DefaultTTL)
	go sweepDrafts(ctx, drafts)

	srv, err := handlers.NewServer(cfg, handlers.Deps{
		Activities: activities.NewService(newRecordStore(cfg, conn), objects, logger),
		Auth:       authenticator,
		Drafts:     drafts,
		Objects:    objects,
		Hub:        hub,
		Sessions:   auth.Store,
		Log:        logger,
	})
	if err != nil {
		return err
	}

	logger.Info("server starting", "addr", cfg.Addr(), "app", cfg.AppName,
		"auth", cfg.AuthMode, "records", cfg.RecordStore, "storage", cfg.Storage.Driver)
	return listen(ctx, &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	})
}

// listen serves until ctx is cancelled, then drains open requests.
func listen(ctx context.Context, server *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down", "addr", server.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func sweepDrafts(ctx context.Context, drafts *gallery.Registry) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := drafts.Sweep(); n > 0 {
				logger.Debug("expired drafts dropped", "count", n)
			}
		}
	}
}

func newRecordStore(cfg config.Config, conn *sql.DB) activities.Store {
	if cfg.RecordStore == config.DriverRemote {
		return activities.NewRemoteStore(cfg.Backend.URL, cfg.Backend.ServiceKey)
	}
	return activities.NewSQLiteStore(conn)
}

func newObjectStore(cfg config.Config) (storage.ObjectStore, error) {
	if cfg.Storage.Driver == config.DriverRemote {
		return storage.NewRemoteBucket(cfg.Backend.URL, cfg.Storage.Bucket, cfg.Backend.ServiceKey), nil
	}
	b, err := storage.NewLocalBucket(cfg.Storage.Dir, cfg.Storage.Bucket, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("open local bucket: %w", err)
	}
	return b, nil
}

// newAuthenticator picks the admin sign-in. In delegated mode the admin role
// is read from the local user_roles table when records are local too, and
// from the backend otherwise.
func newAuthenticator(cfg config.Config, conn *sql.DB, store sessions.Store) (auth.Authenticator, error) {
	if cfg.AuthMode == config.AuthLocal {
		return auth.NewLocalAuthenticator(conn, store)
	}

	client := identity.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey, cfg.Backend.JWTSecret)
	var roles auth.RoleChecker
	if cfg.RecordStore == config.DriverSQLite {
		roles = auth.LocalRoles{DB: conn}
	}
	a := auth.NewDelegatedAuthenticator(client, roles, store, logger)
	a.Subscribe(func(e auth.Event) {
		logger.Info("auth event", "type", e.Type, "user", e.UserID, "admin", e.Admin)
	})
	return a, nil
}
