package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbase-ai/docbase/pkg/version"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docbase")
	assert.Contains(t, out, version.Version)
}

func TestVersionCommandShort(t *testing.T) {
	out, err := runCommand(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := runCommand(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "index", "search", "status", "version"} {
		assert.Contains(t, out, sub)
	}
}
