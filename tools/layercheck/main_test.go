package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryRespectsLayers(t *testing.T) {
	violations, err := check(filepath.Join("..", ".."))
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckReportsViolation(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pkg", "store")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.go"), []byte(`package store

import (
	"fmt"

	"github.com/madaxer/devopsAgent/pkg/policy"
)

var _ = fmt.Sprint
var _ = policy.Wildcard
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_test.go"), []byte(`package store

import _ "github.com/madaxer/devopsAgent/pkg/coordinator"
`), 0o600))

	violations, err := check(root)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "pkg/store/bad.go", violations[0].File)
	assert.Equal(t, 6, violations[0].Line)

	var out bytes.Buffer
	assert.Equal(t, 1, run(root, &out, &out))
	assert.Contains(t, out.String(), "LAYER VIOLATION")
}

func TestCheckMissingPkgDir(t *testing.T) {
	_, err := check(t.TempDir())
	require.Error(t, err)
}
