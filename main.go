package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/icarus/engine"
	"github.com/spaghettifunk/icarus/engine/config"
	"github.com/spaghettifunk/icarus/engine/core"
)

func main() {
	configPath := flag.String("config", "icarus.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		core.LogFatal("invalid configuration: %s", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app, err := engine.New(cfg)
	if err != nil {
		core.LogError("engine setup failed: %s", err.Error())
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		app.Shutdown()
		core.LogError("engine run failed: %s", err.Error())
		os.Exit(1)
	}
	app.Shutdown()
}
