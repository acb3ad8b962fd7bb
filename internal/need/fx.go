package need

import (
	"github.com/smallbiznis/needflow/internal/need/repository"
	"github.com/smallbiznis/needflow/internal/need/service"
	"go.uber.org/fx"
)

var Module = fx.Module("need.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
