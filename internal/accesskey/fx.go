package accesskey

import (
	"github.com/smallbiznis/keygate/internal/accesskey/repository"
	"github.com/smallbiznis/keygate/internal/accesskey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("accesskey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewMaintenance),
)
