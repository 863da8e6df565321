package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/droneai/review-agent/internal/api"
	"github.com/droneai/review-agent/internal/config"
	"github.com/droneai/review-agent/internal/db"
	"github.com/droneai/review-agent/internal/logging"
	"github.com/droneai/review-agent/internal/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "review-agent",
		Short:         "Review drone footage: mark events, label frames, export clips",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newSessionsCmd(), newReportCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local review agent (the default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// openStore loads the config and opens the database for the offline
// subcommands.
func openStore() (*config.EnvConfig, *db.DB, *store.SQLiteRepository, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	database, err := db.New(cfg.DBPath(), logging.NewLoggerTo(os.Stderr, "warn"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cfg, database, store.NewRepository(database.Conn()), nil
}

func ensureDeviceID(ctx context.Context, repo store.Repository) (string, error) {
	return ensureSecret(ctx, repo, "device_id", 16)
}

func ensureAuthToken(ctx context.Context, repo store.Repository) (string, error) {
	return ensureSecret(ctx, repo, api.AuthTokenKey, 32)
}

func ensureSecret(ctx context.Context, repo store.Repository, key string, size int) (string, error) {
	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}
