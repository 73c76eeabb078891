package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/utiliko/billing/internal/audit"
	"github.com/utiliko/billing/internal/authorization"
	"github.com/utiliko/billing/internal/billing"
	"github.com/utiliko/billing/internal/clock"
	"github.com/utiliko/billing/internal/config"
	"github.com/utiliko/billing/internal/consumption"
	"github.com/utiliko/billing/internal/invoice"
	"github.com/utiliko/billing/internal/meter"
	"github.com/utiliko/billing/internal/migration"
	"github.com/utiliko/billing/internal/observability"
	"github.com/utiliko/billing/internal/server"
	"github.com/utiliko/billing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services behind the HTTP surface
		audit.Module,
		authorization.Module,
		billing.Module,
		consumption.Module,
		invoice.Module,
		meter.Module,

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
