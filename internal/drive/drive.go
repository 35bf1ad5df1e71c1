// Package drive abstracts the content-management storage the indexer reads
// documents from. The engine only ever touches a Drive through this small
// interface; the local-filesystem implementation backs the default setup and
// the tests.
package drive

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docbase-ai/docbase/internal/errors"
)

// Drive is the storage surface the indexing coordinator consumes.
type Drive interface {
	// GetRootRelative translates an absolute path into a drive-relative
	// cmspath.
	GetRootRelative(path string) (string, error)

	// GetFullPath translates a drive-relative cmspath into an absolute path.
	GetFullPath(cmsPath string) string

	// GetReadStream opens the file for streaming reads.
	GetReadStream(path string) (io.ReadCloser, error)

	// WriteFile writes data to the drive-relative path, creating parent
	// directories as needed.
	WriteFile(path string, data []byte) error
}

// LocalDrive serves a directory tree on the local filesystem.
type LocalDrive struct {
	root string
}

var _ Drive = (*LocalDrive)(nil)

// NewLocalDrive creates a drive rooted at dir, creating it if missing.
func NewLocalDrive(dir string) (*LocalDrive, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Validation("invalid drive root: " + err.Error())
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	return &LocalDrive{root: abs}, nil
}

// Root returns the absolute root directory.
func (d *LocalDrive) Root() string { return d.root }

// GetRootRelative translates an absolute path to a cmspath. Paths outside the
// root are rejected.
func (d *LocalDrive) GetRootRelative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Validation("invalid path: " + err.Error())
	}
	rel, err := filepath.Rel(d.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Validation("path outside drive root: " + path)
	}
	return filepath.ToSlash(rel), nil
}

// GetFullPath translates a cmspath to an absolute path.
func (d *LocalDrive) GetFullPath(cmsPath string) string {
	return filepath.Join(d.root, filepath.FromSlash(cmsPath))
}

// GetReadStream opens the file at path, which may be absolute or
// drive-relative.
func (d *LocalDrive) GetReadStream(path string) (io.ReadCloser, error) {
	if !filepath.IsAbs(path) {
		path = d.GetFullPath(path)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("file " + path)
		}
		return nil, errors.Wrap(errors.ErrCodeSnapshotRead, err)
	}
	return f, nil
}

// WriteFile writes data under the drive-relative path.
func (d *LocalDrive) WriteFile(path string, data []byte) error {
	full := d.GetFullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotWrite, err)
	}
	return nil
}
