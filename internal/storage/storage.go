// Package storage mirrors sessions and player records to a database so
// player standings survive a restart.
package storage

import (
	"context"
	"fmt"

	"github.com/ernie/noughts/internal/domain"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Backend is implemented by Store and PostgresStore
type Backend interface {
	UpsertGame(ctx context.Context, game domain.Game) error
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	UpsertPlayer(ctx context.Context, rec domain.PlayerRecord) error
	GetPlayer(ctx context.Context, name string) (*domain.PlayerRecord, error)
	LoadPlayers(ctx context.Context) ([]domain.PlayerRecord, error)
	Close() error
}

// Open returns the backend for driver, or nil for DriverNone.
// dsn is a file path for SQLite and a connection string for PostgreSQL.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch driver {
	case DriverSQLite, "":
		s, err := New(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
