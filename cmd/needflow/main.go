package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/approval"
	"github.com/smallbiznis/needflow/internal/audit"
	"github.com/smallbiznis/needflow/internal/authorization"
	"github.com/smallbiznis/needflow/internal/catalog"
	"github.com/smallbiznis/needflow/internal/clock"
	"github.com/smallbiznis/needflow/internal/config"
	"github.com/smallbiznis/needflow/internal/distribution"
	"github.com/smallbiznis/needflow/internal/match"
	"github.com/smallbiznis/needflow/internal/migration"
	"github.com/smallbiznis/needflow/internal/need"
	"github.com/smallbiznis/needflow/internal/observability"
	"github.com/smallbiznis/needflow/internal/providers"
	"github.com/smallbiznis/needflow/internal/seed"
	"github.com/smallbiznis/needflow/internal/server"
	"github.com/smallbiznis/needflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		providers.Module,

		// Domains
		audit.Module,
		authorization.Module,
		catalog.Module,
		need.Module,
		match.Module,
		approval.Module,
		distribution.Module,
		seed.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
