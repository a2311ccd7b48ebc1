package db

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/repo/postgres"
	"github.com/geocoder89/userhub/internal/security"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureAdminUser makes sure at least one admin exists so a fresh deploy can
// reach the role-gated endpoints. No-op when the credentials are not
// configured or the email is already present.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config, repo *postgres.UsersRepo) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	_, err := repo.GetByEmail(ctx, cfg.AdminEmail)

	if err == nil {
		return nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	name := cfg.AdminName
	if name == "" {
		name = "Admin"
	}

	_, err = repo.Create(ctx, user.New(name, cfg.AdminEmail, hash, user.RoleAdmin, time.Now().UTC()))

	if errors.Is(err, user.ErrEmailTaken) {
		// another instance seeded first
		return nil
	}

	return err
}
