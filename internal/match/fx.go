package match

import (
	"github.com/smallbiznis/needflow/internal/match/repository"
	"github.com/smallbiznis/needflow/internal/match/service"
	"go.uber.org/fx"
)

var Module = fx.Module("match.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
