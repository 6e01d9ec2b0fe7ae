//go:build integration

// Package helpers provides shared fixtures for end-to-end tests.
package helpers

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a disposable postgres instance.
type PostgresContainer struct {
	container *postgres.PostgresContainer
	DSN       string
}

// StartPostgres launches a postgres container and waits until it accepts
// connections.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	pgContainer, err := postgres.Run(ctx, "postgres:15",
		postgres.WithDatabase("proctor_e2e"),
		postgres.WithUsername("e2e"),
		postgres.WithPassword("e2e"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("resolving connection string: %w", err)
	}

	return &PostgresContainer{container: pgContainer, DSN: dsn}, nil
}

// Terminate stops and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.container.Terminate(ctx)
}
