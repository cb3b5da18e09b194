package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ackg/config"
	"ackg/db"
	"ackg/models"
	"ackg/uploads"

	"github.com/spf13/cobra"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Start the standalone image upload service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.AppConfig
		srv, err := uploads.NewServer(cfg.Uploads.Dir, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf("%s:%d", cfg.ListenIP, cfg.Uploads.ListenPort)
		logger.Info("upload service starting", "addr", addr, "dir", cfg.Uploads.Dir)
		return listen(ctx, &http.Server{
			Addr:              addr,
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	},
}

var (
	flagUsername string
	flagPassword string
	flagUserID   string
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Set the local admin credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagPassword == "" {
			return errors.New("--password is required")
		}
		conn, err := db.Open(config.AppConfig.DBPath)
		if err != nil {
			return err
		}
		defer conn.Close()

		if _, err := db.SeedAdmin(conn); err != nil {
			return err
		}
		if err := db.SetCredential(conn, flagUsername, flagPassword); err != nil {
			return err
		}
		fmt.Println("Admin credential updated")
		return nil
	},
}

var grantAdminCmd = &cobra.Command{
	Use:   "grant-admin",
	Short: "Give a delegated user the admin role",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagUserID == "" {
			return errors.New("--user is required")
		}
		conn, err := db.Open(config.AppConfig.DBPath)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.GrantRole(conn, flagUserID, models.RoleAdmin); err != nil {
			return err
		}
		fmt.Printf("User %s is now %s\n", flagUserID, models.RoleAdmin)
		return nil
	},
}

func init() {
	passwdCmd.Flags().StringVar(&flagUsername, "username", "", "new username (unchanged when empty)")
	passwdCmd.Flags().StringVar(&flagPassword, "password", "", "new password")
	grantAdminCmd.Flags().StringVar(&flagUserID, "user", "", "user id at the identity provider")
}
