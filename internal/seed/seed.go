package seed

import (
	"context"
	"errors"

	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	"github.com/smallbiznis/needflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// defaultCatalog is the starter list of supply items handed out by most
// field offices. Unit prices are in the smallest currency unit.
var defaultCatalog = []catalogdomain.CreateItemRequest{
	{Name: "Rice", Unit: "kg", UnitPrice: 1500},
	{Name: "Cooking Oil", Unit: "litre", UnitPrice: 2200},
	{Name: "Sugar", Unit: "kg", UnitPrice: 1800},
	{Name: "Instant Noodles", Unit: "pack", UnitPrice: 350},
	{Name: "Canned Fish", Unit: "can", UnitPrice: 900},
	{Name: "Infant Formula", Unit: "tin", UnitPrice: 12000},
	{Name: "Diapers", Unit: "pack", UnitPrice: 6500},
	{Name: "Bath Soap", Unit: "bar", UnitPrice: 400},
	{Name: "Blanket", Unit: "piece", UnitPrice: 45000},
	{Name: "Drinking Water", Unit: "gallon", UnitPrice: 2000},
}

var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, catalog catalogdomain.Service, log *zap.Logger) {
		if !cfg.SeedCatalog {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return EnsureCatalog(ctx, catalog, log)
			},
		})
	}),
)

// EnsureCatalog creates every default supply item that does not exist yet.
// Items are keyed by code, so running it again is a no-op.
func EnsureCatalog(ctx context.Context, catalog catalogdomain.Service, log *zap.Logger) error {
	if catalog == nil {
		return errors.New("seed catalog service is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("seed")

	created := 0
	for _, req := range defaultCatalog {
		item, isNew, err := catalog.CreateItem(ctx, req)
		if err != nil {
			return err
		}
		if isNew {
			created++
			log.Debug("supply item seeded", zap.String("code", item.Code), zap.String("item_id", item.ID.String()))
		}
	}

	log.Info("supply catalog ensured", zap.Int("created", created), zap.Int("total", len(defaultCatalog)))
	return nil
}
