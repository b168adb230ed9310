package services

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/seabreeze-yc/clubinbox/internal/repository"
)

// Database is what *pgxpool.Pool gives us: plain queries plus transactions.
type Database interface {
	repository.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}
