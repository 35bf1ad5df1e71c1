package drive

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase-ai/docbase/internal/errors"
)

func TestLocalDrivePathTranslation(t *testing.T) {
	d, err := NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	full := d.GetFullPath("docs/readme.txt")
	assert.Equal(t, filepath.Join(d.Root(), "docs", "readme.txt"), full)

	rel, err := d.GetRootRelative(full)
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.txt", rel)

	_, err = d.GetRootRelative("/etc/passwd")
	assert.Error(t, err)
}

func TestLocalDriveWriteAndRead(t *testing.T) {
	d, err := NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.WriteFile("nested/dir/file.txt", []byte("drive body")))

	r, err := d.GetReadStream("nested/dir/file.txt")
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "drive body", string(body))
}

func TestLocalDriveReadMissing(t *testing.T) {
	d, err := NewLocalDrive(t.TempDir())
	require.NoError(t, err)

	_, err = d.GetReadStream("no/such/file.txt")
	assert.True(t, errors.IsNotFound(err))
}
