package main

import (
	"flag"

	"github.com/go-pg/migrations"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/connectivity"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

var migrationDir = flag.String("dir", "migrations", "directory with migrations")
var doInit = flag.Bool("init", false, "perform db init (for empty db)")

func main() {
	cfg, err := configuration.Load(configuration.Params{GoFlags: flag.CommandLine})
	if err != nil {
		panic(err)
	}
	log := observability.Make(cfg.Log.Level, cfg.Log.Format).Log()
	configuration.PrintConfig(log, cfg)

	db, err := connectivity.Connect(cfg.DB)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer db.Close()

	collection := migrations.NewCollection()
	if *doInit {
		if _, _, err := collection.Run(db, "init"); err != nil {
			log.WithError(err).Fatal("could not init migrations")
		}
	}

	if err := collection.DiscoverSQLMigrations(*migrationDir); err != nil {
		log.WithError(err).Fatal("failed to read migrations")
	}
	if _, _, err := collection.Run(db, "up"); err != nil {
		log.WithError(err).Fatal("could not migrate")
	}
	log.Info("migrated successfully")
}
