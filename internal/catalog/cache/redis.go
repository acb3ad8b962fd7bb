package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/needflow/internal/catalog/domain"
	"github.com/smallbiznis/needflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keySupplyItem  = "catalog:item:%s"
	defaultItemTTL = 5 * time.Minute
	pingTimeout    = 2 * time.Second
)

type ClientParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

// NewRedisClient returns nil when no Redis address is configured.
func NewRedisClient(p ClientParams) *redis.Client {
	if !p.Cfg.Redis.Enabled() {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.Redis.Addr,
		Password: p.Cfg.Redis.Password,
		DB:       p.Cfg.Redis.DB,
	})
	log := p.Log.Named("catalog.cache")

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				log.Warn("redis unreachable, catalog reads go to the database", zap.String("addr", p.Cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

// ItemCache is a read-through cache of supply items keyed by id.
type ItemCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewItemCache(client *redis.Client, cfg config.Config) *ItemCache {
	ttl := time.Duration(cfg.Redis.CatalogCacheTTL) * time.Second
	if ttl <= 0 {
		ttl = defaultItemTTL
	}
	return &ItemCache{client: client, ttl: ttl}
}

func (c *ItemCache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *ItemCache) Get(ctx context.Context, id snowflake.ID) (domain.SupplyItem, bool, error) {
	if !c.Enabled() {
		return domain.SupplyItem{}, false, nil
	}
	raw, err := c.client.Get(ctx, itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SupplyItem{}, false, nil
	}
	if err != nil {
		return domain.SupplyItem{}, false, err
	}

	var item domain.SupplyItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.SupplyItem{}, false, err
	}
	return item, true, nil
}

func (c *ItemCache) Set(ctx context.Context, item domain.SupplyItem) error {
	if !c.Enabled() || item.ID == 0 {
		return nil
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, itemKey(item.ID), payload, c.ttl).Err()
}

func (c *ItemCache) Delete(ctx context.Context, id snowflake.ID) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, itemKey(id)).Err()
}

func itemKey(id snowflake.ID) string {
	return fmt.Sprintf(keySupplyItem, id.String())
}
