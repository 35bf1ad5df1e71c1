package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docbase-ai/docbase/internal/persist"
)

// tenantStatus is the status report for one tenant.
type tenantStatus struct {
	Tenant        string `json:"tenant"`
	Documents     int    `json:"documents"`
	VectorEntries int    `json:"vector_entries"`
	Dimensions    int    `json:"dimensions"`
	Dirty         bool   `json:"dirty"`
	UsedBytes     int64  `json:"used_bytes,omitempty"`
	MaxBytes      int64  `json:"max_bytes,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tenant index and usage status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ti, err := a.openTenant(ctx, tenantArg)
	if err != nil {
		return err
	}

	st := tenantStatus{
		Tenant:        tenantArg,
		Documents:     ti.Tfidf.Len(),
		VectorEntries: ti.Vector.Len(),
		Dimensions:    ti.Vector.Dimensions(),
		Dirty:         ti.Tfidf.Dirty() || ti.Vector.Dirty(),
		MaxBytes:      a.cfg.Quota.MaxBytesPerUser,
	}
	if a.quota != nil {
		tenant, err := persist.ParseTenant(tenantArg)
		if err != nil {
			return err
		}
		if used, err := a.quota.Used(ctx, tenant.User); err == nil {
			st.UsedBytes = used
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(out, "tenant:          %s\n", st.Tenant)
	fmt.Fprintf(out, "documents:       %d\n", st.Documents)
	fmt.Fprintf(out, "vector entries:  %d (dim %d)\n", st.VectorEntries, st.Dimensions)
	fmt.Fprintf(out, "unsaved changes: %v\n", st.Dirty)
	if st.MaxBytes > 0 {
		fmt.Fprintf(out, "usage:           %d of %d bytes\n", st.UsedBytes, st.MaxBytes)
	}
	return nil
}
