package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/rigsim/internal/asset"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	scenePath := flag.String("scene", "", "scene file to open instead of the configured one")
	flag.Parse()

	if err := run(*configPath, *scenePath); err != nil {
		fmt.Fprintln(os.Stderr, "simulator:", err)
		os.Exit(1)
	}
}

func run(configPath, scenePath string) error {
	app, err := injector.InitializeApp(injector.ConfigPath(configPath))
	if err != nil {
		return err
	}
	defer func() {
		if l, ok := app.Logger.(*log.Logger); ok {
			_ = l.Sync()
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = app.Simulation.Init(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Simulation.Dispose(); err != nil {
			app.Logger.Error("dispose simulation", log.Error(err))
		}
	}()

	uri := firstNonEmpty(scenePath, app.Config.Assets.Scene, asset.DemoScene)
	r, err := app.Assets.Open(ctx, uri)
	if err != nil {
		return err
	}
	if err = app.Simulation.OpenScene(r); err != nil {
		return fmt.Errorf("open scene %s: %w", uri, err)
	}
	app.Logger.Info("scene opened", log.String("uri", uri))

	if app.Config.Bridge.Enabled {
		if err = app.Bridge.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := app.Bridge.Stop(stopCtx); err != nil {
				app.Logger.Error("stop bridge", log.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- app.Simulation.Run(ctx) }()

	select {
	case <-ctx.Done():
		app.Logger.Info("shutting down")
		return <-errCh
	case err = <-errCh:
		return err
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
