package injector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/behave/internal/config"
	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/events/bus"
	"github.com/zeusync/behave/internal/core/manager"
	"github.com/zeusync/behave/internal/core/observability/log"
	"github.com/zeusync/behave/internal/core/observability/metrics"
	"github.com/zeusync/behave/internal/server"
)

// App is the assembled runtime: manager, bus and the optional gateway.
type App struct {
	Config  config.Config
	Logger  log.Log
	Bus     bus.EventBus
	Metrics *metrics.Collector
	Manager *manager.Manager
	Server  *server.Server
}

func NewApp(cfg config.Config, logger log.Log, b bus.EventBus, collector *metrics.Collector, m *manager.Manager, srv *server.Server) *App {
	return &App{Config: cfg, Logger: logger, Bus: b, Metrics: collector, Manager: m, Server: srv}
}

// Load loads the configured trees, the saved state if there is one, and
// spawns the configured actors.
func (a *App) Load() error {
	for _, path := range a.Config.Trees {
		if _, err := a.Manager.LoadFile(path); err != nil {
			return fmt.Errorf("load tree %s: %w", path, err)
		}
	}
	if err := a.loadState(); err != nil {
		return err
	}
	for _, actor := range a.Config.Actors {
		if _, err := a.Manager.Spawn(bt.ActorID(actor.ID), actor.Tree); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks the manager and serves the gateway until ctx is done or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Manager.Run(gctx) })
	if a.Server != nil {
		g.Go(func() error { return a.Server.Run(gctx) })
	}
	a.Logger.Info("behave running",
		log.Int("trees", len(a.Manager.Trees())),
		log.Int("actors", a.Manager.Len()),
		log.Bool("server", a.Server != nil))
	err := g.Wait()
	if serr := a.saveState(); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

func (a *App) loadState() error {
	path := a.Config.Runtime.StateFile
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer f.Close()
	return a.Manager.LoadState(f)
}

// saveState writes a temporary file next to the state file and renames it
// into place.
func (a *App) saveState() error {
	path := a.Config.Runtime.StateFile
	if path == "" {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err = a.Manager.SaveState(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
