// Package servicetest builds a small on-disk atlas for tests.
//
// h_sapiens has gene_expression in Lung, Heart and Liver, with a Lung
// neighborhood partition and feature sequences, plus a quantised
// chromatin_accessibility measurement. m_musculus has a single organ. A
// protein_embeddings container covers both.
package servicetest

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlasapprox/server/internal/data/store"
	"github.com/atlasapprox/server/internal/data/zarr"
	"github.com/atlasapprox/server/internal/data/zarr/zarrtest"
	"github.com/atlasapprox/server/internal/refstore"
)

// HumanFeatures are the gene_expression features of h_sapiens.
var HumanFeatures = []string{"COL1A1", "PTPRC", "EPCAM", "CD3E", "ACTA2", "PECAM1", "SFTPC", "MYH6", "CD19", "ALB"}

// Organ is one organ of the fixture. Average and Fraction are
// [cell types, features], row-major.
type Organ struct {
	Name       string
	CellTypes  []string
	CellCounts []int64
	Average    []float32
	Fraction   []float32
}

var HumanOrgans = []Organ{
	{
		Name:       "Heart",
		CellTypes:  []string{"fibroblast", "cardiomyocyte", "endothelial"},
		CellCounts: []int64{90, 400, 60},
		Average: []float32{
			40, 0, 0, 0, 20, 1, 0, 0, 0, 0,
			2, 0, 0, 0, 5, 0, 0, 80, 0, 0,
			1, 1, 0, 0, 2, 50, 0, 0, 0, 0,
		},
		Fraction: []float32{
			0.80, 0.00, 0, 0, 0.50, 0.10, 0, 0, 0, 0,
			0.10, 0.00, 0, 0, 0.20, 0.00, 0, 0.95, 0, 0,
			0.05, 0.05, 0, 0, 0.10, 0.85, 0, 0, 0, 0,
		},
	},
	{
		Name:       "Liver",
		CellTypes:  []string{"hepatocyte", "T", "endothelial"},
		CellCounts: []int64{500, 50, 70},
		Average: []float32{
			0, 0, 5, 0, 0, 0, 0, 0, 0, 90,
			0, 35, 0, 15, 0, 0, 0, 0, 2, 1,
			1, 1, 0, 0, 1, 30, 0, 0, 0, 2,
		},
		Fraction: []float32{
			0.00, 0.00, 0.30, 0.00, 0.00, 0.00, 0, 0, 0, 0.98,
			0.00, 0.90, 0.00, 0.70, 0.00, 0.00, 0, 0, 0.10, 0.05,
			0.05, 0.05, 0.00, 0.00, 0.05, 0.80, 0, 0, 0, 0.10,
		},
	},
	{
		Name:       "Lung",
		CellTypes:  []string{"fibroblast", "T", "endothelial", "AT2"},
		CellCounts: []int64{120, 300, 80, 200},
		Average: []float32{
			50, 1, 0, 0, 30, 2, 0, 0, 0, 0,
			1, 40, 0, 20, 0, 1, 0, 0, 5, 0,
			2, 2, 0, 0, 3, 45, 0, 0, 0, 0,
			1, 0, 30, 0, 0, 1, 60, 0, 0, 0,
		},
		Fraction: []float32{
			0.90, 0.05, 0.00, 0.00, 0.60, 0.10, 0.00, 0, 0, 0,
			0.10, 0.95, 0.00, 0.80, 0.00, 0.05, 0.00, 0, 0.20, 0,
			0.15, 0.10, 0.00, 0.00, 0.20, 0.90, 0.00, 0, 0, 0,
			0.05, 0.00, 0.85, 0.00, 0.00, 0.05, 0.95, 0, 0, 0,
		},
	},
}

// Lung neighborhoods: nb0 holds half and nb1 one and a half times the Lung
// averages.
var (
	NeighborhoodNames      = []string{"nb0", "nb1"}
	NeighborhoodScale      = []float32{0.5, 1.5}
	NeighborhoodCellCounts = []int64{60, 100, 40, 120, 60, 200, 40, 80}
	NeighborhoodCentroids  = []float32{1, 2, 3.5, -1}
	NeighborhoodHulls      = [][]float32{
		{0, 0, 2, 0, 1, 3},
		{3, -2, 4, -2, 4, 0, 3, 0},
	}
)

var MouseFeatures = []string{"Col1a1", "Ptprc", "Hhip", "Aspn", "Grem2", "Pecam1"}

var MouseLung = Organ{
	Name:       "Lung",
	CellTypes:  []string{"fibroblast", "T", "endothelial"},
	CellCounts: []int64{100, 200, 50},
	Average: []float32{
		40, 1, 20, 10, 15, 2,
		2, 30, 0, 1, 0, 1,
		3, 2, 1, 8, 1, 35,
	},
	Fraction: []float32{
		0.90, 0.05, 0.70, 0.50, 0.60, 0.10,
		0.10, 0.95, 0.00, 0.05, 0.00, 0.05,
		0.20, 0.10, 0.10, 0.40, 0.05, 0.90,
	},
}

// Peaks of the quantised chromatin_accessibility measurement. Codes decode
// to code/100.
var (
	Peaks          = []string{"chr1-100-200", "chr1-500-800", "chr2-10-90"}
	PeakCellTypes  = []string{"fibroblast", "T"}
	PeakCodes      = []uint8{10, 200, 0, 50, 0, 255}
	SurfaceGenes   = []string{"PTPRC", "EPCAM", "PECAM1", "CD3E", "CD19"}
	Interactions   = []refstore.Interaction{{Source: "PTPRC", Target: "CD22"}, {Source: "CD19", Target: "CD81"}, {Source: "CD3E", Target: "CD247"}}
	HumanEmbedding = map[string][]int8{
		"COL1A1": {10, 20, 30, 40},
		"PTPRC":  {-50, 0, 0, 0},
		"ALB":    {-100, -100, -100, -100},
	}
	MouseEmbedding = map[string][]int8{
		"Col1a1": {10, 20, 30, 41},
		"Col1a2": {12, 20, 30, 40},
		"Ptprc":  {-50, 0, 0, 0},
		"Hhip":   {10, 20, 30, 100},
	}
	humanEmbeddingOrder = []string{"COL1A1", "PTPRC", "ALB"}
	mouseEmbeddingOrder = []string{"Col1a1", "Col1a2", "Ptprc", "Hhip"}
)

// HumanSource is the citation stored on the h_sapiens container. m_musculus
// has none.
const HumanSource = "Tabula Sapiens (https://www.science.org/doi/10.1126/science.abl4896)"

// Sequence is the stored sequence of a h_sapiens feature.
func Sequence(feature string) string { return "M" + feature + "*" }

// BuildAtlas writes the fixture atlas into a temporary directory and
// returns it.
func BuildAtlas(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	writeHuman(t, dir)
	writeMouse(t, dir)
	writeEmbeddings(t, dir)
	return dir
}

func writeOrgan(t testing.TB, dir, p string, o Organ, nFeatures int) {
	zarrtest.WriteGroup(t, dir, p, nil)
	zarrtest.WriteArray(t, dir, p+"/obs_names", zarrtest.Array{Shape: []int{len(o.CellTypes)}, Data: o.CellTypes})
	zarrtest.WriteArray(t, dir, p+"/cell_count", zarrtest.Array{Shape: []int{len(o.CellTypes)}, Data: o.CellCounts})
	shape := []int{len(o.CellTypes), nFeatures}
	zarrtest.WriteArray(t, dir, p+"/average", zarrtest.Array{Shape: shape, Chunks: []int{2, 4}, Data: o.Average})
	zarrtest.WriteArray(t, dir, p+"/fraction", zarrtest.Array{Shape: shape, Chunks: []int{2, 4}, Data: o.Fraction, Codec: "gzip"})
}

func writeHuman(t testing.TB, dir string) {
	root := "h_sapiens.zarr"
	zarrtest.WriteGroup(t, dir, root, map[string]any{"organism": "h_sapiens", "source": HumanSource})
	zarrtest.WriteGroup(t, dir, root+"/measurements", nil)

	ge := root + "/measurements/gene_expression"
	zarrtest.WriteGroup(t, dir, ge, map[string]any{"unit": "cptt"})
	zarrtest.WriteArray(t, dir, ge+"/var_names", zarrtest.Array{Shape: []int{len(HumanFeatures)}, Chunks: []int{4}, Data: HumanFeatures})
	zarrtest.WriteGroup(t, dir, ge+"/data", nil)
	for _, o := range HumanOrgans {
		writeOrgan(t, dir, ge+"/data/"+o.Name, o, len(HumanFeatures))
	}

	seqs := make([]string, len(HumanFeatures))
	for i, f := range HumanFeatures {
		seqs[i] = Sequence(f)
	}
	zarrtest.WriteGroup(t, dir, ge+"/feature_sequences", map[string]any{"type": "protein"})
	zarrtest.WriteArray(t, dir, ge+"/feature_sequences/sequences", zarrtest.Array{Shape: []int{len(seqs)}, Chunks: []int{3}, Data: seqs, Codec: "lz4"})

	writeNeighborhood(t, dir, ge+"/data/Lung/neighborhood")

	ca := root + "/measurements/chromatin_accessibility"
	zarrtest.WriteGroup(t, dir, ca, nil)
	zarrtest.WriteArray(t, dir, ca+"/var_names", zarrtest.Array{Shape: []int{len(Peaks)}, Data: Peaks})
	table := make([]float32, 256)
	for i := range table {
		table[i] = float32(i) / 100
	}
	zarrtest.WriteArray(t, dir, ca+"/quantisation", zarrtest.Array{Shape: []int{256}, Data: table})
	zarrtest.WriteGroup(t, dir, ca+"/data", nil)
	lung := ca + "/data/Lung"
	zarrtest.WriteGroup(t, dir, lung, nil)
	zarrtest.WriteArray(t, dir, lung+"/obs_names", zarrtest.Array{Shape: []int{2}, Data: PeakCellTypes})
	zarrtest.WriteArray(t, dir, lung+"/cell_count", zarrtest.Array{Shape: []int{2}, Data: []int64{40, 90}})
	zarrtest.WriteArray(t, dir, lung+"/average", zarrtest.Array{Shape: []int{2, 3}, Chunks: []int{1, 2}, Data: PeakCodes, KeyEncoding: "v2"})
}

func writeNeighborhood(t testing.TB, dir, p string) {
	lung := HumanOrgans[2]
	nNb, nCt, nF := len(NeighborhoodNames), len(lung.CellTypes), len(HumanFeatures)
	avg := make([]float32, 0, nNb*nCt*nF)
	frac := make([]float32, 0, nNb*nCt*nF)
	for _, scale := range NeighborhoodScale {
		for _, v := range lung.Average {
			avg = append(avg, v*scale)
		}
		frac = append(frac, lung.Fraction...)
	}

	zarrtest.WriteGroup(t, dir, p, nil)
	zarrtest.WriteArray(t, dir, p+"/obs_names", zarrtest.Array{Shape: []int{nNb}, Data: NeighborhoodNames})
	zarrtest.WriteArray(t, dir, p+"/cell_count", zarrtest.Array{Shape: []int{nNb, nCt}, Data: NeighborhoodCellCounts})
	zarrtest.WriteArray(t, dir, p+"/coords_centroid", zarrtest.Array{Shape: []int{nNb, 2}, Data: NeighborhoodCentroids})
	zarrtest.WriteGroup(t, dir, p+"/convex_hull", nil)
	for i, hull := range NeighborhoodHulls {
		zarrtest.WriteArray(t, dir, p+"/convex_hull/"+strconv.Itoa(i), zarrtest.Array{Shape: []int{len(hull) / 2, 2}, Data: hull})
	}
	shape := []int{nNb, nCt, nF}
	zarrtest.WriteArray(t, dir, p+"/average", zarrtest.Array{Shape: shape, Chunks: []int{1, 2, 4}, Data: avg})
	zarrtest.WriteArray(t, dir, p+"/fraction", zarrtest.Array{Shape: shape, Chunks: []int{1, 2, 4}, Data: frac, Truncate: true})
}

func writeMouse(t testing.TB, dir string) {
	root := "m_musculus.zarr"
	zarrtest.WriteGroup(t, dir, root, map[string]any{"organism": "m_musculus"})
	zarrtest.WriteGroup(t, dir, root+"/measurements", nil)
	ge := root + "/measurements/gene_expression"
	zarrtest.WriteGroup(t, dir, ge, map[string]any{"unit": "cptt"})
	zarrtest.WriteArray(t, dir, ge+"/var_names", zarrtest.Array{Shape: []int{len(MouseFeatures)}, Data: MouseFeatures})
	zarrtest.WriteGroup(t, dir, ge+"/data", nil)
	writeOrgan(t, dir, ge+"/data/"+MouseLung.Name, MouseLung, len(MouseFeatures))
}

func writeEmbeddings(t testing.TB, dir string) {
	root := "protein_embeddings.zarr"
	zarrtest.WriteGroup(t, dir, root, nil)
	write := func(organism string, order []string, vectors map[string][]int8) {
		var codes []int8
		for _, f := range order {
			codes = append(codes, vectors[f]...)
		}
		zarrtest.WriteGroup(t, dir, root+"/"+organism, nil)
		zarrtest.WriteArray(t, dir, root+"/"+organism+"/features", zarrtest.Array{Shape: []int{len(order)}, Data: order})
		zarrtest.WriteArray(t, dir, root+"/"+organism+"/embeddings", zarrtest.Array{Shape: []int{len(order), 4}, Chunks: []int{2, 4}, Data: codes})
	}
	write("h_sapiens", humanEmbeddingOrder, HumanEmbedding)
	write("m_musculus", mouseEmbeddingOrder, MouseEmbedding)
}

// NewReference opens a reference database with the fixture's surface
// genes and interactions.
func NewReference(t testing.TB) *refstore.Store {
	t.Helper()
	ref, err := refstore.NewStore(filepath.Join(t.TempDir(), "reference.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ref.Close() })
	ctx := context.Background()
	require.NoError(t, ref.AddSurfaceFeatures(ctx, "h_sapiens", SurfaceGenes))
	require.NoError(t, ref.AddInteractions(ctx, "h_sapiens", Interactions))
	return ref
}

// CountingBackend counts container opens and chunk fetches.
type CountingBackend struct {
	store.Backend

	mu     sync.Mutex
	opens  int
	stores []*zarrtest.CountingStore
}

func NewCountingBackend(b store.Backend) *CountingBackend {
	return &CountingBackend{Backend: b}
}

func (b *CountingBackend) Open(ctx context.Context, name string) (zarr.Store, error) {
	s, err := b.Backend.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	cs := zarrtest.NewCountingStore(s)
	b.mu.Lock()
	b.opens++
	b.stores = append(b.stores, cs)
	b.mu.Unlock()
	return cs, nil
}

// Opens returns the number of containers opened.
func (b *CountingBackend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Gets returns the number of store reads across every opened container.
func (b *CountingBackend) Gets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.stores {
		n += s.Total()
	}
	return n
}
