package config

import (
	"context"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
)

// SetupDatabase connects to the relational user directory. User rows are
// owned by the external identity system; this service only reads them for
// audience resolution.
func SetupDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	return pgxpool.Connect(ctx, os.Getenv("DATABASE_URL"))
}
