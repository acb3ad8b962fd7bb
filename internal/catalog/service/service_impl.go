package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/needflow/internal/catalog/cache"
	"github.com/smallbiznis/needflow/internal/catalog/domain"
	"github.com/smallbiznis/needflow/internal/clock"
	"github.com/smallbiznis/needflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Cache *cache.ItemCache `optional:"true"`
	Clock clock.Clock      `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	cache *cache.ItemCache
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		repo:  p.Repo,
		cache: p.Cache,
		clock: c,
	}
}

// NewLookup exposes the read-only side of the catalog to other domains.
func NewLookup(svc domain.Service) domain.Lookup {
	return svc
}

func (s *Service) Lookup(ctx context.Context, id snowflake.ID) (domain.SupplyItem, error) {
	if id == 0 {
		return domain.SupplyItem{}, domain.ErrSupplyItemNotFound
	}

	if item, ok, err := s.cache.Get(ctx, id); err != nil {
		s.log.Warn("catalog cache read failed", zap.String("supply_item_id", id.String()), zap.Error(err))
	} else if ok {
		return item, nil
	}

	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.SupplyItem{}, err
	}
	if item == nil {
		return domain.SupplyItem{}, domain.ErrSupplyItemNotFound
	}

	if err := s.cache.Set(ctx, *item); err != nil {
		s.log.Warn("catalog cache write failed", zap.String("supply_item_id", id.String()), zap.Error(err))
	}
	return *item, nil
}

func (s *Service) LookupMany(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]domain.SupplyItem, error) {
	out := make(map[snowflake.ID]domain.SupplyItem, len(ids))
	missing := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		item, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.log.Warn("catalog cache read failed", zap.String("supply_item_id", id.String()), zap.Error(err))
		}
		if ok {
			out[id] = item
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	items, err := s.repo.FindByIDs(ctx, s.db, missing)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		out[item.ID] = *item
		if err := s.cache.Set(ctx, *item); err != nil {
			s.log.Warn("catalog cache write failed", zap.String("supply_item_id", item.ID.String()), zap.Error(err))
		}
	}
	return out, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.CreateItemRequest) (domain.SupplyItem, bool, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.SupplyItem{}, false, domain.ErrInvalidName
	}
	if req.UnitPrice < 0 {
		return domain.SupplyItem{}, false, domain.ErrInvalidUnitPrice
	}

	code := slug.Make(strings.TrimSpace(req.Code))
	if code == "" {
		code = slug.Make(name)
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = "unit"
	}

	existing, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return domain.SupplyItem{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	now := s.clock.Now().UTC()
	item := domain.SupplyItem{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		Unit:      unit,
		UnitPrice: req.UnitPrice,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &item); err != nil {
		if db.IsDuplicateKeyErr(err) {
			existing, findErr := s.repo.FindByCode(ctx, s.db, code)
			if findErr == nil && existing != nil {
				return *existing, false, nil
			}
		}
		return domain.SupplyItem{}, false, err
	}

	s.log.Info("supply item created", zap.String("supply_item_id", item.ID.String()), zap.String("code", code))
	return item, true, nil
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]domain.SupplyItem, error) {
	items, err := s.repo.List(ctx, s.db, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SupplyItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}
