package main

import (
	"context"
	"fmt"

	"github.com/fastprodman/balancesync/internal/config"
	"github.com/fastprodman/balancesync/internal/infra/pgutils"
	"github.com/fastprodman/balancesync/internal/repos/snapshots"
	dynsnapshots "github.com/fastprodman/balancesync/internal/repos/snapshots/dynamo"
	memsnapshots "github.com/fastprodman/balancesync/internal/repos/snapshots/memory"
	pgsnapshots "github.com/fastprodman/balancesync/internal/repos/snapshots/postgres"
	"github.com/fastprodman/balancesync/pkg/envconf"
	"github.com/fastprodman/balancesync/pkg/shutdownqueue"
)

// openStore builds the snapshot store for cfg.Driver. Driver specific
// settings are read from the environment only for the chosen driver.
func openStore(ctx context.Context, cfg config.StoreConfig) (snapshots.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		var pg config.PostgresConfig

		err := envconf.Load(&pg)
		if err != nil {
			return nil, fmt.Errorf("load postgres config: %w", err)
		}

		db, err := pgutils.OpenDB(ctx, pg)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}

		shutdownqueue.Add(func(context.Context) error {
			return db.Close()
		})

		return pgsnapshots.New(db), nil
	case config.StoreDynamo:
		var dc config.DynamoConfig

		err := envconf.Load(&dc)
		if err != nil {
			return nil, fmt.Errorf("load dynamodb config: %w", err)
		}

		client, err := dynsnapshots.NewClient(ctx, dc)
		if err != nil {
			return nil, fmt.Errorf("dynamodb client: %w", err)
		}

		return dynsnapshots.New(client, dc.Table), nil
	default:
		return memsnapshots.New(cfg.MemoryTTL), nil
	}
}
