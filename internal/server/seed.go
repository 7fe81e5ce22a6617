package server

import (
	"context"
	"log/slog"
	"os"
)

// SeedAdmin ensures a default admin account exists so a fresh deployment has
// a login. Credentials come from ADMIN_USERNAME / ADMIN_PASSWORD; nothing is
// created when they are unset.
func SeedAdmin(ctx context.Context, logger *slog.Logger, admin AdminStore) error {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}
	if err := admin.EnsureAdmin(ctx, username, password); err != nil {
		return err
	}
	logger.Info("admin account ensured", "username", username)
	return nil
}
