package connectivity

import (
	"github.com/go-pg/pg"
	"github.com/pkg/errors"

	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/pkg/cycle"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

func Make(cfg *configuration.Configuration, obs *observability.Observability) *Connectivity {
	log := obs.Log()
	db, err := Connect(cfg.DB)
	if err != nil {
		log.Fatal(err.Error())
	}
	err = cycle.UntilError(func() error {
		_, err := db.Exec("select 1")
		return err
	}, cfg.DB.AttemptInterval, cfg.DB.Attempts, log)
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to ping db"))
	}
	return &Connectivity{pg: db}
}

func Connect(cfg configuration.DB) (*pg.DB, error) {
	opt, err := pg.ParseURL(cfg.URL)
	if err != nil {
		// pg.ParseURL uses standard url.Parse
		// which fills url-string with password into error,
		// so the raw error must not be wrapped here.
		return nil, errors.New("failed to parse cfg.DB.URL")
	}
	opt.PoolSize = cfg.PoolSize
	return pg.Connect(opt), nil
}

type Connectivity struct {
	pg *pg.DB
}

func (c *Connectivity) PG() *pg.DB {
	return c.pg
}
