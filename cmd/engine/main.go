package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Vimbi/cryptocurrency-investments-sub000/component"
	"github.com/Vimbi/cryptocurrency-investments-sub000/configuration"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

var stop = make(chan os.Signal, 1)

func main() {
	cfg, err := configuration.Load(configuration.Params{})
	if err != nil {
		panic(err)
	}
	log := observability.Make(cfg.Log.Level, cfg.Log.Format).Log()
	configuration.PrintConfig(log, cfg)

	manager := component.Prepare(cfg)
	manager.Start()

	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("gracefully stopping...")
	manager.Stop()
}
