// Package persistence selects a storage backend from the environment.
package persistence

import (
	"fmt"
	"os"

	"graphsub/internal/infra/persistence/memory"
	"graphsub/internal/infra/persistence/postgres"
	"graphsub/internal/infra/persistence/sqlite"
	"graphsub/pkg/domain"
)

// Driver identifies a concrete storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open selects a backend using environment variables. Defaults to sqlite
// when unset.
//
//	GRAPHSUB_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	GRAPHSUB_SQLITE_PATH: path to sqlite file (default ./graphsub.db)
//	GRAPHSUB_POSTGRES_DSN: postgres DSN when driver=postgres
func Open() (domain.Storage, error) {
	driver := os.Getenv("GRAPHSUB_STORAGE_DRIVER")
	if driver == "" {
		driver = string(DriverSQLite)
	}
	switch Driver(driver) {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(os.Getenv("GRAPHSUB_SQLITE_PATH"))
	case DriverPostgres:
		return postgres.NewStore(os.Getenv("GRAPHSUB_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
