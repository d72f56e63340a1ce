package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/benefit"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	"github.com/smallbiznis/entitled/internal/customer"
	"github.com/smallbiznis/entitled/internal/fulfillment"
	"github.com/smallbiznis/entitled/internal/grant"
	"github.com/smallbiznis/entitled/internal/lock"
	"github.com/smallbiznis/entitled/internal/migration"
	"github.com/smallbiznis/entitled/internal/notification"
	"github.com/smallbiznis/entitled/internal/observability"
	"github.com/smallbiznis/entitled/internal/server"
	"github.com/smallbiznis/entitled/internal/taskqueue"
	"github.com/smallbiznis/entitled/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,
		notification.Module,

		// Functional domains
		customer.Module,
		grant.Module,
		benefit.Module,
		fulfillment.Module,
		taskqueue.Module,

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
