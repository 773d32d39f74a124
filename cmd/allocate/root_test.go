package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSnapshot(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "disabled")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), err
}

func TestAllocate_SingleSnapshot(t *testing.T) {
	path := writeSnapshot(t, "snapshot.json", `{
		"companies": ["A", "B"],
		"expected_return": [0.10, 0.05],
		"covariance_matrix": [[0.04, 0], [0, 0.01]]
	}`)

	out, err := execute(t, "--stats", path)
	require.NoError(t, err)

	var results []allocationResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)

	assert.Equal(t, path, results[0].Source)
	assert.InDelta(t, 1.0, results[0].Allocation["A"], 1e-4)
	assert.InDelta(t, 0.0, results[0].Allocation["B"], 1e-4)
	require.NotNil(t, results[0].Stats)
	assert.InDelta(t, 0.10, results[0].Stats.ExpectedReturn, 1e-4)
}

func TestAllocate_ListFallsBackPerSnapshot(t *testing.T) {
	path := writeSnapshot(t, "batch.json", `[
		{"companies": ["A", "B"], "expected_return": [0.10, 0.05], "covariance_matrix": [[0.04, 0], [0, 0.01]]},
		{"companies": ["X", "Y"], "expected_return": [0.10], "covariance_matrix": [[0.04, 0], [0, 0.01]]}
	]`)

	out, err := execute(t, "--gamma", "1", "--workers", "2", path)
	require.NoError(t, err)

	var results []allocationResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)

	assert.Equal(t, path+"#1", results[1].Source)
	assert.Equal(t, 0.5, results[1].Allocation["X"])
	assert.Equal(t, 0.5, results[1].Allocation["Y"])
	assert.Nil(t, results[0].Stats)
}

func TestAllocate_Errors(t *testing.T) {
	t.Run("empty universe", func(t *testing.T) {
		path := writeSnapshot(t, "empty.json", `{"companies": [], "expected_return": [], "covariance_matrix": []}`)
		_, err := execute(t, path)
		assert.Error(t, err)
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := writeSnapshot(t, "snapshot.csv", "A,B")
		_, err := execute(t, path)
		assert.ErrorContains(t, err, "unknown snapshot format")
	})

	t.Run("negative gamma", func(t *testing.T) {
		path := writeSnapshot(t, "snapshot.json", `{"companies": ["A"], "expected_return": [0.1], "covariance_matrix": [[0.02]]}`)
		_, err := execute(t, "--gamma", "-1", path)
		assert.ErrorContains(t, err, "ALLOCATOR_GAMMA")
	})

	t.Run("no arguments", func(t *testing.T) {
		_, err := execute(t)
		assert.Error(t, err)
	})
}
