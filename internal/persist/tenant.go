package persist

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/tfidf"
	"github.com/docbase-ai/docbase/internal/vector"
)

// Tenant is the triple scoping one index.
type Tenant struct {
	User string
	Org  string
	App  string
}

// Dir returns the tenant's directory name under the data root.
func (t Tenant) Dir() string {
	return t.User + "_" + t.Org + "_" + t.App
}

func (t Tenant) String() string { return t.Dir() }

// ParseTenant parses a <user>_<org>_<app> directory name.
func ParseTenant(s string) (Tenant, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Tenant{}, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("tenant must be <user>_<org>_<app>, got %q", s), nil)
	}
	return Tenant{User: parts[0], Org: parts[1], App: parts[2]}, nil
}

// TenantIndex is an open handle on one tenant's engines. The registry hands
// out at most one handle per tenant per process; the flock keeps a second
// process out of the same directory.
type TenantIndex struct {
	Tenant Tenant
	Tfidf  *tfidf.Engine
	Vector *vector.Index

	dir  string
	lock *flock.Flock

	mu       sync.Mutex // serializes Save against the autosave timer
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Dir returns the tenant directory this handle persists into.
func (ti *TenantIndex) Dir() string { return ti.dir }

// Save snapshots both engines if they mutated since the last snapshot.
// A failed shard save leaves that engine dirty so the next call retries.
func (ti *TenantIndex) Save() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	if ti.Tfidf.Dirty() {
		if err := SaveTfidf(filepath.Join(ti.dir, tfidfDirName), ti.Tfidf); err != nil {
			return err
		}
	}
	if ti.Vector.Dirty() {
		if err := SaveVector(filepath.Join(ti.dir, vectorDirName), ti.Vector); err != nil {
			return err
		}
	}
	return nil
}

func (ti *TenantIndex) startAutosave(interval time.Duration) {
	ti.stop = make(chan struct{})
	ti.done = make(chan struct{})
	go func() {
		defer close(ti.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ti.stop:
				return
			case <-ticker.C:
				if err := ti.Save(); err != nil {
					slog.Warn("autosave_failed",
						"tenant", ti.Tenant.String(),
						"error", err)
				}
			}
		}
	}()
}

func (ti *TenantIndex) stopAutosave() {
	ti.stopOnce.Do(func() {
		if ti.stop != nil {
			close(ti.stop)
			<-ti.done
		}
	})
}
