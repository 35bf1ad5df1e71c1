package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docbase-ai/docbase/internal/drive"
	"github.com/docbase-ai/docbase/internal/indexer"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the drive and keep the tenant index current",
		Long: `Watch the document drive for changes and apply them to the tenant's
keyword and vector indexes as they happen. Autosave snapshots the indexes
periodically; when distributed, mutations are broadcast over the cluster bus.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ti, err := a.openTenant(ctx, tenantArg)
	if err != nil {
		return err
	}

	d, err := drive.NewLocalDrive(a.cfg.Paths.DriveRoot)
	if err != nil {
		return err
	}
	watcher, err := drive.NewWatcher(d, drive.DefaultDebounceWindow)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	coord := indexer.New(indexer.Options{
		Tenant:    tenantArg,
		Drive:     d,
		Tfidf:     ti.Tfidf,
		Vector:    ti.Vector,
		Quota:     quotaOrNil(a),
		Progress:  indexer.NewProgress(a.bus),
		Retrieval: a.cfg.Retrieval,
	})

	slog.Info("serve_started",
		"tenant", tenantArg,
		"drive_root", a.cfg.Paths.DriveRoot,
		"distributed", a.distributed())
	fmt.Fprintf(cmd.OutOrStdout(), "watching %s for tenant %s\n",
		a.cfg.Paths.DriveRoot, tenantArg)

	go func() {
		for err := range watcher.Errors() {
			slog.Warn("drive_watch_error", "error", err)
		}
	}()

	coord.Run(ctx, watcher.Events())
	slog.Info("serve_stopped", "tenant", tenantArg)
	return nil
}
