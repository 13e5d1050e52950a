package zarr_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapprox/server/internal/data/zarr"
	"github.com/atlasapprox/server/internal/data/zarr/zarrtest"
)

func TestGroup_NavigateAndAttributes(t *testing.T) {
	dir := t.TempDir()
	zarrtest.WriteGroup(t, dir, "", map[string]any{"organism": "h_sapiens"})
	zarrtest.WriteGroup(t, dir, "measurements", nil)
	zarrtest.WriteGroup(t, dir, "measurements/gene_expression", map[string]any{
		"unit":    "cptt",
		"aliases": []string{"rna", "expression"},
		"flag":    true,
	})
	zarrtest.WriteGroup(t, dir, "measurements/chromatin_accessibility", nil)
	zarrtest.WriteArray(t, dir, "measurements/gene_expression/var_names", zarrtest.Array{
		Shape: []int{2}, Data: []string{"A", "B"},
	})

	c, _ := openContainer(t, dir)
	ctx := context.Background()
	assert.Equal(t, "h_sapiens", c.Root().Meta().StringAttr("organism"))

	m, err := c.Root().Group(ctx, "measurements")
	require.NoError(t, err)
	children, err := m.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chromatin_accessibility", "gene_expression"}, children)

	ge, err := m.Group(ctx, "gene_expression")
	require.NoError(t, err)
	assert.Equal(t, "cptt", ge.Meta().StringAttr("unit"))
	assert.Equal(t, []string{"rna", "expression"}, ge.Meta().StringsAttr("aliases"))
	flag, ok := ge.Meta().BoolAttr("flag")
	assert.True(t, ok)
	assert.True(t, flag)

	has, err := ge.Has(ctx, "var_names")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = ge.Has(ctx, "quantisation")
	require.NoError(t, err)
	assert.False(t, has)

	arr, err := ge.Array(ctx, "var_names")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, arr.Shape())
	assert.Equal(t, "string", arr.DataType())
}

func TestGroup_MissingNode(t *testing.T) {
	dir := t.TempDir()
	zarrtest.WriteGroup(t, dir, "", nil)
	zarrtest.WriteArray(t, dir, "arr", zarrtest.Array{Shape: []int{1}, Data: []float32{1}})

	c, _ := openContainer(t, dir)
	ctx := context.Background()

	_, err := c.Root().Group(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, zarr.ErrNotFound))

	_, err = c.Root().Group(ctx, "arr")
	require.Error(t, err)
	assert.False(t, errors.Is(err, zarr.ErrNotFound))

	_, err = c.Root().Array(ctx, "missing")
	assert.True(t, errors.Is(err, zarr.ErrNotFound))
}
