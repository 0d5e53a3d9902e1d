//nolint:errcheck // testsetup
package tcpostgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/TBoris/gorynych/pkg/db/migrate"
	database "github.com/TBoris/gorynych/pkg/db/postgres"
)

// SetupTestDb creates a migrated connection pool for the test database. Set
// TESTDB_URL to use an external database instead of a container.
func SetupTestDb() *pgxpool.Pool {
	ctx := context.Background()
	dbURL := os.Getenv("TESTDB_URL")
	if dbURL == "" {
		dbURL = startContainer(ctx)
	}

	if err := migrate.MigrateDb(dbURL); err != nil {
		log.Fatal(err)
	}

	pool, err := database.InitWithURL(ctx, dbURL)
	if err != nil {
		log.Fatal(err)
	}
	return pool
}

func startContainer(ctx context.Context) string {
	port, err := nat.NewPort("tcp", "5432")
	if err != nil {
		log.Fatal(err)
	}
	container, err := SetupPostgres(ctx,
		WithPort(port.Port()),
		WithInitialDatabase("postgres", "password", "postgres"),
		WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
		WithName("gorynych-test"),
	)
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	return fmt.Sprintf("postgresql://postgres:password@%s:%s/postgres",
		host, containerPort.Port())
}

func ClearEventTables(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from dispatch")
	pool.Exec(context.Background(), "delete from events")
}

func ClearTrackTables(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from tracks_group")
	pool.Exec(context.Background(), "delete from track_snapshot")
	pool.Exec(context.Background(), "delete from track_data")
	pool.Exec(context.Background(), "delete from track")
}

func ClearAllTables(pool *pgxpool.Pool) {
	ClearTrackTables(pool)
	ClearEventTables(pool)
}
