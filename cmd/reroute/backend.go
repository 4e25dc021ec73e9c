package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/reroute/internal/config"
	"github.com/mattjoyce/reroute/internal/kvtable"
	"github.com/mattjoyce/reroute/internal/rerouting"
	"github.com/mattjoyce/reroute/internal/storage"
)

// runtime holds the shared state opened from a config. close releases all of it.
type runtime struct {
	cfg     *config.Config
	db      *sql.DB
	table   rerouting.KeyValueTable
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openRuntime opens the state database and the configured routing table backend.
func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	table, closeTable, err := openTable(ctx, cfg.Rerouting, db)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.table = table
	rt.closers = append(rt.closers, closeTable)
	return rt, nil
}

func openTable(ctx context.Context, rc config.ReroutingConfig, db *sql.DB) (rerouting.KeyValueTable, func(), error) {
	switch rc.Backend {
	case config.BackendSQLite:
		return kvtable.NewSQLite(db, rc.Table), func() {}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Redis.Addr,
			Password: rc.Redis.Password,
			DB:       rc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis %s: %w", rc.Redis.Addr, err)
		}
		return kvtable.NewRedis(client, rc.Table), func() { _ = client.Close() }, nil

	case config.BackendNATS:
		nc, err := nats.Connect(rc.NATS.URL, nats.Name("reroute"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to nats %s: %w", rc.NATS.URL, err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		table, err := kvtable.OpenNATS(ctx, js, rc.Table)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return table, func() { _ = nc.Drain() }, nil
	}
	return nil, nil, fmt.Errorf("unknown rerouting backend %q", rc.Backend)
}
