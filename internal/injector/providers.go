package injector

import (
	"github.com/google/wire"
	"github.com/zeusync/rigsim/internal/asset"
	"github.com/zeusync/rigsim/internal/bridge"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/pick"
	"github.com/zeusync/rigsim/internal/core/reconcile"
	"github.com/zeusync/rigsim/internal/core/scene"
	"github.com/zeusync/rigsim/internal/core/sensor"
	"github.com/zeusync/rigsim/internal/core/sim"
)

// ConfigPath is the optional YAML configuration file; empty uses the defaults.
type ConfigPath string

// App is everything the simulator binary runs.
type App struct {
	Config     *config.Config
	Logger     log.Log
	Bus        bus.EventBus
	Store      *scene.Store
	Assets     *asset.FileSource
	Simulation *sim.Simulation
	Bridge     *bridge.Server
	Picker     *pick.Picker
}

func ProvideConfig(path ConfigPath) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(string(path))
}

func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.New(log.ParseLevel(cfg.Log.Level))
}

// ProvideStore returns a scene store that applies origin update requests from the bus.
func ProvideStore(b bus.EventBus) (*scene.Store, error) {
	store := scene.NewStore()
	if _, err := store.Attach(b); err != nil {
		return nil, err
	}
	return store, nil
}

func ProvideReconciler(b bus.EventBus, cfg *config.Config, logger log.Log) *reconcile.Reconciler {
	return reconcile.New(b, cfg.Reconcile, logger)
}

func ProvideBridge(cfg *config.Config, s *sim.Simulation, b bus.EventBus, logger log.Log) *bridge.Server {
	return bridge.NewServer(cfg.Bridge, s, b, logger)
}

var CoreSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	bus.New,
	ProvideStore,
	physics.NewArena,
	wire.Bind(new(physics.World), new(*physics.Arena)),
	wire.Bind(new(physics.Caster), new(*physics.Arena)),
	asset.NewFileSource,
	wire.Bind(new(asset.Source), new(*asset.FileSource)),
	sensor.DefaultRegistry,
	ProvideReconciler,
	sim.New,
)

var AppSet = wire.NewSet(
	CoreSet,
	ProvideBridge,
	pick.NewPicker,
	wire.Bind(new(pick.NodeMapper), new(*sim.Simulation)),
	wire.Struct(new(App), "*"),
)
