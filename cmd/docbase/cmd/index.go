package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docbase-ai/docbase/internal/drive"
	"github.com/docbase-ai/docbase/internal/indexer"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Ingest drive files into the tenant index",
		Long: `Ingest a file or directory from the document drive into the tenant's
keyword and vector indexes. With no path, the whole drive is ingested.

Examples:
  docbase index --tenant u1_acme_chat
  docbase index docs/handbook.txt --tenant u1_acme_chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd.Context(), cmd, path)
		},
	}
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string) error {
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
	coord := indexer.New(indexer.Options{
		Tenant:    tenantArg,
		Drive:     d,
		Tfidf:     ti.Tfidf,
		Vector:    ti.Vector,
		Quota:     quotaOrNil(a),
		Progress:  indexer.NewProgress(a.bus),
		Retrieval: a.cfg.Retrieval,
	})

	paths, err := collectFiles(d, path)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files under %q", path)
	}

	indexed := 0
	for _, cmsPath := range paths {
		if err := coord.Handle(ctx, drive.Event{Path: cmsPath, Operation: drive.OpCreate}); err != nil {
			return fmt.Errorf("index %s: %w", cmsPath, err)
		}
		indexed++
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %s\n", cmsPath)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d files indexed for %s\n", indexed, tenantArg)
	return ti.Save()
}

// quotaOrNil avoids a typed-nil Quota interface when no usage log is open.
func quotaOrNil(a *app) indexer.Quota {
	if a.quota == nil {
		return nil
	}
	return a.quota
}

// collectFiles resolves path (a drive-relative file or directory, empty for
// the drive root) into the list of files to ingest.
func collectFiles(d *drive.LocalDrive, path string) ([]string, error) {
	full := d.GetFullPath(path)
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		rel, err := d.GetRootRelative(full)
		if err != nil {
			return nil, err
		}
		return []string{rel}, nil
	}

	var out []string
	err = filepath.WalkDir(full, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if len(entry.Name()) > 1 && entry.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Name()[0] == '.' {
			return nil
		}
		rel, err := d.GetRootRelative(p)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}
