package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellxplore/internal/anndata/anndatatest"
	"cellxplore/internal/blob"
	"cellxplore/internal/zarr/zarrtest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files, err := blob.NewFilesystem(dir)
	require.NoError(t, err)
	w, ok := files.(blob.Writer)
	require.True(t, ok)
	b, err := zarrtest.New(context.Background(), w, "brain.zarr")
	require.NoError(t, err)
	require.NoError(t, anndatatest.WriteDataFrame(b, "uns/Cellchat_Interactions", []string{"0", "1", "2"},
		anndatatest.Col("source", []string{"B", "T", "NK"}),
		anndatatest.Col("target", []string{"T", "B", "B"}),
		anndatatest.Col("lr_probs", []float64{0.1, 0.2, 0}),
	))
	return dir
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestInspectPrintsInteractionColumns(t *testing.T) {
	t.Setenv("CELLXPLORE_BLOB_FS_ROOT", writeStore(t))
	t.Setenv("CELLXPLORE_LOGGER_LEVEL", "error")

	out, err := execute(t, "inspect", "--store.path", "brain.zarr", "--tree")
	require.NoError(t, err)
	assert.Contains(t, out, "interaction table Cellchat_Interactions: 3 rows")
	assert.Contains(t, out, "lr_probs")
	assert.Contains(t, out, "Cellchat_Interactions/")
}

func TestInspectMissingStore(t *testing.T) {
	t.Setenv("CELLXPLORE_BLOB_FS_ROOT", t.TempDir())
	t.Setenv("CELLXPLORE_LOGGER_LEVEL", "error")

	_, err := execute(t, "inspect", "--store.path", "absent.zarr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.zarr")
}

func TestInvalidConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cellxplore.yaml")
	require.NoError(t, os.WriteFile(file, []byte("query:\n  max_p_value: 3\n"), 0o600))

	_, err := execute(t, "--config", file, "inspect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
