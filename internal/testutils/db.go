// Package testutils spins up a throwaway postgres container for
// integration tests and applies the SQL migrations to it.
package testutils

import (
	"fmt"
	"log"
	"testing"

	"github.com/go-pg/migrations"
	"github.com/go-pg/pg"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
)

var pgOptions = &pg.Options{
	Addr:            "localhost",
	Database:        "ledger_test_db",
	User:            "postgres",
	Password:        "secret",
	ApplicationName: "ledger",
}

// SetupDB starts postgres in docker, runs the migrations from
// migrationsDir and returns the connection plus a cleaner that tears the
// container down.
func SetupDB(migrationsDir string) (*pg.DB, pg.Options, func()) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not connect to docker: %s", err)
	}

	resource, err := pool.Run(
		"postgres", "12",
		[]string{
			"POSTGRES_DB=" + pgOptions.Database,
			"POSTGRES_PASSWORD=" + pgOptions.Password,
		},
	)
	if err != nil {
		log.Panicf("could not start resource: %s", err)
	}

	poolCleaner := func() {
		log.Printf("removing container")
		if err := pool.Purge(resource); err != nil {
			log.Printf("failed to purge docker pool: %s", err)
		}
	}

	options := *pgOptions
	options.Addr = fmt.Sprintf("%s:%s", options.Addr, resource.GetPort("5432/tcp"))

	var db *pg.DB
	err = pool.Retry(func() error {
		db = pg.Connect(&options)
		_, err := db.Exec("select 1")
		return err
	})
	if err != nil {
		poolCleaner()
		log.Panicf("could not start postgres: %s", err)
	}

	cleaner := func() {
		log.Printf("shutting down db")
		if err := db.Close(); err != nil {
			log.Printf("failed to close db: %s", err)
		}
		poolCleaner()
	}

	collection := migrations.NewCollection()
	if _, _, err = collection.Run(db, "init"); err != nil {
		cleaner()
		log.Panicf("could not init migrations: %s", err)
	}
	if err = collection.DiscoverSQLMigrations(migrationsDir); err != nil {
		cleaner()
		log.Panicf("failed to read migrations: %s", err)
	}
	if _, _, err = collection.Run(db, "up"); err != nil {
		cleaner()
		log.Panicf("could not migrate: %s", err)
	}
	return db, options, cleaner
}

func TruncateTables(t *testing.T, db *pg.DB, models []interface{}) {
	for _, m := range models {
		_, err := db.Model(m).Exec("TRUNCATE TABLE ?TableName CASCADE")
		require.NoError(t, err)
	}
}
