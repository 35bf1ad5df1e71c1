package persist

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/tfidf"
	"github.com/docbase-ai/docbase/internal/vector"
)

// OpenOptions configures a tenant handle at open time.
type OpenOptions struct {
	// Tfidf configures the keyword shard.
	Tfidf tfidf.Config

	// Vector carries index options, typically the embedder.
	Vector []vector.Option

	// Autosave starts a periodic snapshot timer. Zero disables it.
	Autosave time.Duration
}

// Registry owns the open tenant handles of this process. One handle per
// tenant; opening an already-open tenant returns the existing handle.
type Registry struct {
	root string

	mu   sync.Mutex
	open map[string]*TenantIndex
}

// NewRegistry creates a registry rooted at the data directory.
func NewRegistry(root string) *Registry {
	return &Registry{root: root, open: make(map[string]*TenantIndex)}
}

// Open loads (or creates) the tenant's on-disk state and returns a handle.
// The tenant directory is locked against other processes for the lifetime of
// the handle; a directory held elsewhere fails with ERR_204_STORE_LOCKED.
func (r *Registry) Open(tenant Tenant, opts OpenOptions) (*TenantIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ti, ok := r.open[tenant.Dir()]; ok {
		return ti, nil
	}

	dir := filepath.Join(r.root, tenant.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreLocked, err)
	}
	if !locked {
		return nil, errors.New(errors.ErrCodeStoreLocked,
			fmt.Sprintf("tenant store %s is held by another process", tenant), nil)
	}

	engine, err := LoadTfidf(filepath.Join(dir, tfidfDirName), opts.Tfidf)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	index, err := LoadVector(filepath.Join(dir, vectorDirName), opts.Vector...)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	ti := &TenantIndex{
		Tenant: tenant,
		Tfidf:  engine,
		Vector: index,
		dir:    dir,
		lock:   lock,
	}
	if opts.Autosave > 0 {
		ti.startAutosave(opts.Autosave)
	}
	r.open[tenant.Dir()] = ti
	return ti, nil
}

// Get returns the open handle for tenant, if any.
func (r *Registry) Get(tenant Tenant) (*TenantIndex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ti, ok := r.open[tenant.Dir()]
	return ti, ok
}

// Close saves the tenant a final time, stops its autosave timer, and releases
// the directory lock. The handle is removed from the registry even when the
// final save fails, so the error surfaces exactly once.
func (r *Registry) Close(tenant Tenant) error {
	r.mu.Lock()
	ti, ok := r.open[tenant.Dir()]
	delete(r.open, tenant.Dir())
	r.mu.Unlock()

	if !ok {
		return errors.NotFound("tenant " + tenant.String())
	}
	return closeHandle(ti)
}

// CloseAll closes every open handle and joins their errors.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	handles := make([]*TenantIndex, 0, len(r.open))
	for _, ti := range r.open {
		handles = append(handles, ti)
	}
	r.open = make(map[string]*TenantIndex)
	r.mu.Unlock()

	var errs []error
	for _, ti := range handles {
		if err := closeHandle(ti); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func closeHandle(ti *TenantIndex) error {
	ti.stopAutosave()
	saveErr := ti.Save()
	if err := ti.lock.Unlock(); err != nil && saveErr == nil {
		saveErr = errors.Wrap(errors.ErrCodeStoreLocked, err)
	}
	return saveErr
}
