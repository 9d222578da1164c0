//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"
)

var serverSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	ProvideBus,
	ProvideServerConfig,
	ProvideServer,
	ProvideApp,
)

func InitializeApp(path ConfigPath) (*App, error) {
	wire.Build(serverSet)
	return nil, nil
}
