package cmd

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/docbase-ai/docbase/internal/cluster"
	"github.com/docbase-ai/docbase/internal/config"
	"github.com/docbase-ai/docbase/internal/embed"
	"github.com/docbase-ai/docbase/internal/logging"
	"github.com/docbase-ai/docbase/internal/persist"
	"github.com/docbase-ai/docbase/internal/tfidf"
	"github.com/docbase-ai/docbase/internal/usagelog"
	"github.com/docbase-ai/docbase/internal/vector"
)

// app holds the process-wide collaborators the commands share.
type app struct {
	cfg      config.Config
	embedder embed.Embedder
	registry *persist.Registry
	quota    *usagelog.Log
	bus      cluster.Bus

	cleanups []func()
}

// openApp loads configuration and wires logging, the embedder, the tenant
// registry, the usage log, and (when distributed) the redis bus.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	logCleanup, err := logging.SetupDefault(logging.Config{
		Level:         level,
		FilePath:      cfg.Logging.FilePath,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	a := &app{cfg: cfg, cleanups: []func(){logCleanup}}

	a.embedder, err = embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, func() { a.embedder.Close() })

	a.registry = persist.NewRegistry(cfg.Paths.DataRoot)
	a.cleanups = append(a.cleanups, func() { a.registry.CloseAll() })

	if cfg.Quota.DBPath != "" {
		a.quota, err = usagelog.Open(cfg.Quota)
		if err != nil {
			a.close()
			return nil, err
		}
		a.cleanups = append(a.cleanups, func() { a.quota.Close() })
	}

	if cfg.Cluster.Distributed && cfg.Cluster.RedisAddr != "" {
		a.bus, err = cluster.NewRedisBus(ctx, cluster.RedisOptions{
			Addr:   cfg.Cluster.RedisAddr,
			NodeID: ulid.Make().String(),
		})
		if err != nil {
			a.close()
			return nil, err
		}
		a.cleanups = append(a.cleanups, func() { a.bus.Close() })
	}

	return a, nil
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

func (a *app) distributed() bool {
	return a.bus != nil
}

// openTenant opens the tenant's engines and, when distributed, attaches them
// to the bus.
func (a *app) openTenant(ctx context.Context, name string) (*persist.TenantIndex, error) {
	if name == "" {
		return nil, fmt.Errorf("--tenant is required")
	}
	tenant, err := persist.ParseTenant(name)
	if err != nil {
		return nil, err
	}

	opts := persist.OpenOptions{
		Tfidf: tfidf.Config{Distributed: a.distributed()},
		Vector: []vector.Option{
			vector.WithEmbedder(a.embedder.Embed),
			vector.WithMultithreaded(a.cfg.Index.Multithreaded),
		},
	}
	if a.cfg.Index.Autosave {
		opts.Autosave = a.cfg.AutosaveInterval()
	}

	ti, err := a.registry.Open(tenant, opts)
	if err != nil {
		return nil, err
	}

	if a.distributed() {
		detach, err := cluster.Serve(ctx, a.bus, name, ti.Tfidf)
		if err != nil {
			return nil, err
		}
		a.cleanups = append(a.cleanups, detach)
		ti.Tfidf.SetRemote(cluster.NewRemote(a.bus, name, cluster.RemoteOptions{
			Timeout:    a.cfg.ClusterTimeout(),
			KnownNodes: a.cfg.Cluster.KnownNodes,
		}))
	}
	return ti, nil
}
