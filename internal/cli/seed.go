package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/catalog"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/store"
)

func newSeedCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the permission catalog, roles, and demo users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			ctx := cmd.Context()

			sqlStore, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			if err := sqlStore.AutoMigrate(ctx); err != nil {
				return err
			}

			if err := catalog.Seed(ctx, sqlStore, logger); err != nil {
				return err
			}
			overlay := catalog.NewOverlay(cfg.CatalogOverlayPath, sqlStore, logger)
			return overlay.Load(ctx)
		},
	}
}

func newTokenCommand(logger *slog.Logger) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return fmt.Errorf("--email is required")
			}
			cfg := config.FromEnv()
			ctx := context.Background()

			sqlStore, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			if err := sqlStore.AutoMigrate(ctx); err != nil {
				return err
			}

			user, err := sqlStore.LookupUserByEmail(ctx, email)
			if err != nil {
				return err
			}
			tokens := auth.NewTokens(cfg.JWTSecret, time.Duration(cfg.TokenTTLHrs)*time.Hour)
			signed, err := tokens.Create(user.ID)
			if err != nil {
				return err
			}
			logger.Info("token minted", "user_id", user.ID, "email", user.Email)
			cmd.Println(signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email of the user to mint a token for")
	return cmd
}
