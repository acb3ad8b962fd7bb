package catalog

import (
	"github.com/smallbiznis/needflow/internal/catalog/cache"
	"github.com/smallbiznis/needflow/internal/catalog/repository"
	"github.com/smallbiznis/needflow/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(cache.NewRedisClient),
	fx.Provide(cache.NewItemCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.NewLookup),
)
