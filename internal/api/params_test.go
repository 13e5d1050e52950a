package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanFeatures(t *testing.T) {
	assert.Equal(t, []string{"col1a1", "ptprc", "cd19"}, cleanFeatures(`"COL1A1", 'Ptprc',,CD19 `))
	assert.Nil(t, cleanFeatures(" , "))
}

func TestCleanCellType(t *testing.T) {
	tests := map[string]string{
		"B cells":          "B",
		"t cell":           "T",
		"NK cells":         "NK",
		"plasma  cell":     "plasma",
		"smooth_muscle":    "smooth muscle",
		" fibroblast ":     "fibroblast",
		"alveolar fibro":   "alveolar fibro",
		"mesothelial cell": "mesothelial cell",
		"fat cell":         "fat cell",
		"fat_cell":         "fat cell",
		"T cells, CD8":     "T cells, CD8",

		"B cell lineage progenitor": "B cell lineage progenitor",
		"NK cell proliferating":     "NK cell proliferating",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanCellType(in), in)
	}
	assert.Equal(t, []string{"B", "endothelial"}, cleanCellTypes(`"B cells",endothelial`))
}

func TestCleanOrgans(t *testing.T) {
	assert.Nil(t, cleanOrgans(""))
	assert.Equal(t, []string{"Lung", "Heart"}, cleanOrgans("Lung, Heart,"))
}

func TestFlag(t *testing.T) {
	for q, want := range map[string]bool{
		"":         false,
		"?x=":      false,
		"?x=0":     false,
		"?x=False": false,
		"?x=no":    false,
		"?x=1":     true,
		"?x=true":  true,
		"?x=yes":   true,
	} {
		assert.Equal(t, want, flag(httptest.NewRequest("GET", "/"+q, nil), "x"), q)
	}
}

func TestPositiveNumber(t *testing.T) {
	n, err := positiveNumber(httptest.NewRequest("GET", "/?number=12", nil), "number")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = positiveNumber(httptest.NewRequest("GET", "/?number=ten", nil), "number")
	var reqErr *requestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, `The "number" parameter should be an integer.`, reqErr.body.Message)

	_, err = positiveNumber(httptest.NewRequest("GET", "/?number=-1", nil), "number")
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, -1, reqErr.body.Error.InvalidValue)
}

func TestOptionalFloat(t *testing.T) {
	v, err := optionalFloat(httptest.NewRequest("GET", "/", nil), "max_distance")
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = optionalFloat(httptest.NewRequest("GET", "/?max_distance=0.25", nil), "max_distance")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-6)

	_, err = optionalFloat(httptest.NewRequest("GET", "/?max_distance=-2", nil), "max_distance")
	assert.Error(t, err)
}
