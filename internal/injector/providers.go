// Package injector wires the server from its configuration.
package injector

import (
	"github.com/umi3d/umisync/internal/config"
	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/server"
)

// ConfigPath is the YAML file to load; empty means defaults and environment
// only.
type ConfigPath string

// App is everything serve needs.
type App struct {
	Config *config.Config
	Logger log.Log
	Bus    bus.EventBus
	Server *server.Server
}

func ProvideConfig(path ConfigPath) (*config.Config, error) {
	return config.Load(string(path))
}

func ProvideLogger(c *config.Config) (log.Log, error) {
	logger, err := log.New(c.LoggerOptions())
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func ProvideBus() bus.EventBus {
	return bus.New()
}

func ProvideServerConfig(c *config.Config) (server.Config, error) {
	return c.ServerConfig()
}

func ProvideServer(sc server.Config, logger log.Log, b bus.EventBus) (*server.Server, error) {
	return server.New(sc, logger, b)
}

func ProvideApp(c *config.Config, logger log.Log, b bus.EventBus, s *server.Server) *App {
	return &App{Config: c, Logger: logger, Bus: b, Server: s}
}
