package service

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnOrder(t *testing.T) {
	order := newColumnOrder([]int{7, 2, 5, 2})
	assert.Equal(t, []int{2, 2, 5, 7}, order.sorted)

	// Two rows read in sorted column order.
	block := []float32{
		20, 21, 50, 70,
		-20, -21, -50, -70,
	}
	m := order.restoreRows(block, 2)
	require.Equal(t, 4, m.Rows)
	require.Equal(t, 2, m.Cols)
	assert.Equal(t, []float32{70, -70}, m.Row(0))
	assert.Equal(t, []float32{20, -20}, m.Row(1))
	assert.Equal(t, []float32{50, -50}, m.Row(2))
	assert.Equal(t, []float32{21, -21}, m.Row(3))

	assert.Equal(t, []float32{70, 20, 50, 21}, order.restoreRow(block[:4]))
}

func TestMarkerMargins(t *testing.T) {
	focal := []float32{5, 1, 3, 0}
	background := [][]float32{
		{1, 1, 0, 0},
		{4, 0, 3, 1},
	}
	assert.Equal(t, []float32{1, 0, 0, -1}, markerMargins(focal, background))
	assert.Equal(t, []float32{4, 0, 3, 0}, markerMargins(focal, background[:1]))
}

func TestRankMarkers(t *testing.T) {
	margins := []float32{0.2, -1, 0.5, 0.2, 0, 0.9}

	assert.Equal(t, []int{5, 2, 0, 3}, rankMarkers(margins, nil, 10))
	assert.Equal(t, []int{5, 2}, rankMarkers(margins, nil, 2))
	assert.Empty(t, rankMarkers(margins, nil, 0))

	surface := roaring.BitmapOf(0, 1, 3, 4)
	assert.Equal(t, []int{0, 3}, rankMarkers(margins, surface, 10))
	assert.Empty(t, rankMarkers(margins, roaring.New(), 10))
}

func TestNearest(t *testing.T) {
	vectors := [][]float32{
		{0, 0},
		{3, 4},
		{1, 0},
		{0, 1},
	}
	idx, dist := nearest(MethodEuclidean, vectors, 0, 10)
	assert.Equal(t, []int{2, 3, 1}, idx)
	require.Len(t, dist, 3)
	assert.InDelta(t, 1/1.41421356, dist[0], 1e-6)
	assert.InDelta(t, 5/1.41421356, dist[2], 1e-5)

	idx, dist = nearest(MethodManhattan, vectors, 1, 1)
	assert.Equal(t, []int{2}, idx)
	assert.InDelta(t, 3.0, dist[0], 1e-6)

	idx, _ = nearest(MethodEuclidean, vectors, 0, -1)
	assert.Empty(t, idx)
}

func TestDistance_Angular(t *testing.T) {
	x := []float32{1, 0, 1}
	assert.InDelta(t, 0, distance(MethodCosine, x, []float32{2, 0, 2}), 1e-6)
	assert.InDelta(t, 1, distance(MethodCosine, x, []float32{0, 3, 0}), 1e-6)
	assert.InDelta(t, 2, distance(MethodCosine, x, []float32{-1, 0, -1}), 1e-6)
	// Zero vectors have no direction and sit at distance one.
	assert.InDelta(t, 1, distance(MethodCosine, x, []float32{0, 0, 0}), 1e-6)

	vectors := [][]float32{{1, 2, 3}, {10, 20, 30}, {3, 2, 1}}
	prepareVectors(MethodCorrelation, vectors)
	assert.InDelta(t, 0, distance(MethodCorrelation, vectors[0], vectors[1]), 1e-5)
	assert.InDelta(t, 2, distance(MethodCorrelation, vectors[0], vectors[2]), 1e-5)
}

func TestPrepareVectors_LogEuclidean(t *testing.T) {
	vectors := [][]float32{{0, 999}}
	prepareVectors(MethodLogEuclidean, vectors)
	assert.InDelta(t, -6.907755, vectors[0][0], 1e-4)
	assert.InDelta(t, 6.906755, vectors[0][1], 1e-4)
}

func TestTopEntries(t *testing.T) {
	entries := func() []highestEntry {
		return []highestEntry{
			{cellType: "a", score: 1},
			{cellType: "b", score: 0},
			{cellType: "c", score: 3},
			{cellType: "d", score: 1},
		}
	}
	names := func(es []highestEntry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.cellType)
		}
		return out
	}

	assert.Equal(t, []string{"c", "a", "d", "b"}, names(topEntries(entries(), 10, false)))
	assert.Equal(t, []string{"c", "a", "d"}, names(topEntries(entries(), 10, true)))
	assert.Equal(t, []string{"c", "a"}, names(topEntries(entries(), 2, true)))
	assert.Empty(t, topEntries(entries(), 0, false))
}

func TestResolveCellType(t *testing.T) {
	names := []string{"fibroblast", "T", "endothelial", "AT2"}

	for q, want := range map[string]int{
		"T":           1,
		"t":           1,
		"fibroblsat":  0,
		"endothelia":  2,
		"AT1":         3,
		"endothelium": 2,
	} {
		i, ok := resolveCellType(names, q)
		assert.True(t, ok, q)
		assert.Equal(t, want, i, q)
	}
	_, ok := resolveCellType(names, "macrophage")
	assert.False(t, ok)
}

func TestResolveOrgan(t *testing.T) {
	organs := []string{"Heart", "Lung", "lung"}
	assert.Equal(t, "lung", resolveOrgan(organs, "lung"))
	assert.Equal(t, "Heart", resolveOrgan(organs, "HEART"))
	assert.Equal(t, "", resolveOrgan(organs, "Brain"))
}
