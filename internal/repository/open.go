package repository

import (
	"context"
	"fmt"
)

// Open connects to the backend named by driver.
func Open(ctx context.Context, driver, path, dsn string, maxConns int) (Backend, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteDB(path)
	case "postgres":
		return NewPostgresDB(ctx, dsn, maxConns)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
