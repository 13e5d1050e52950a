package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapprox/server/internal/service"
	"github.com/atlasapprox/server/internal/service/servicetest"
)

func TestAverages_LungScenario(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Averages(ctx, service.MeasurementQuery{
		Organism: "h_sapiens",
		Organ:    "Lung",
		Features: []string{"COL1A1", "PTPRC"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"COL1A1", "PTPRC"}, res.Features)
	assert.Equal(t, lung().CellTypes, res.CellTypes)
	assert.Equal(t, "cptt", res.Unit)
	require.Equal(t, 2, res.Values.Rows)
	require.Equal(t, len(lung().CellTypes), res.Values.Cols)
	for _, v := range res.Values.Data {
		assert.GreaterOrEqual(t, v, float32(0))
	}
	assert.Equal(t, []float32{50, 1, 2, 1}, res.Values.Row(0))
	assert.Equal(t, []float32{1, 40, 2, 0}, res.Values.Row(1))
}

func TestMeasurement_RequestOrderRestored(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	q := service.MeasurementQuery{Organism: "h_sapiens", Organ: "Lung", Features: []string{"ALB", "cd3e", "COL1A1", "SFTPC"}}
	xy, err := svc.FractionDetected(ctx, q)
	require.NoError(t, err)
	q.Features = []string{"SFTPC", "COL1A1", "cd3e", "ALB"}
	yx, err := svc.FractionDetected(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, []string{"ALB", "CD3E", "COL1A1", "SFTPC"}, xy.Features)
	n := len(xy.Features)
	for i := 0; i < n; i++ {
		assert.Equal(t, xy.Values.Row(i), yx.Values.Row(n-1-i))
	}
	for i, f := range xy.Features {
		assert.Equal(t, lungColumn(lung().Fraction, humanColumn(f)), xy.Values.Row(i))
	}
}

func lungColumn(values []float32, col int) []float32 {
	n := len(servicetest.HumanFeatures)
	out := make([]float32, len(values)/n)
	for r := range out {
		out[r] = values[r*n+col]
	}
	return out
}

func TestMeasurement_AllFeatures(t *testing.T) {
	svc, _ := newService(t)
	res, err := svc.Averages(context.Background(), service.MeasurementQuery{Organism: "h_sapiens", Organ: "Heart"})
	require.NoError(t, err)
	assert.Equal(t, servicetest.HumanFeatures, res.Features)
	assert.Equal(t, servicetest.HumanOrgans[0].Average, res.Values.Transpose().Data)
}

func TestMeasurement_FeatureLimit(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	features := make([]string, 51)
	for i := range features {
		features[i] = servicetest.HumanFeatures[i%len(servicetest.HumanFeatures)]
	}

	res, err := svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", Organ: "Lung", Features: features[:50]})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Values.Rows)
	assert.Equal(t, res.Values.Row(0), res.Values.Row(10))

	_, err = svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", Organ: "Lung", Features: features})
	var tooMany *service.TooManyFeaturesError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 51, tooMany.Requested)
	assert.Equal(t, 50, tooMany.Max)

	_, err = svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", Organ: "Lung", Features: features, IncludeNeighborhood: true})
	require.NoError(t, err)
}

func TestMeasurement_OrganXorCellType(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var scopeErr *service.OrganCellTypeError
	_, err := svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", Features: []string{"ALB"}})
	require.ErrorAs(t, err, &scopeErr)
	_, err = svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", Organ: "Lung", CellType: "T", Features: []string{"ALB"}})
	require.ErrorAs(t, err, &scopeErr)

	_, err = svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", Organ: "Lung", Features: []string{"ALB", "XIST"}})
	var missing *service.SomeFeaturesNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"XIST"}, missing.Features)
}

func TestMeasurement_ByCellType(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Averages(ctx, service.MeasurementQuery{
		Organism: "h_sapiens",
		CellType: "endothelial",
		Features: []string{"PECAM1", "COL1A1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "endothelial", res.CellType)
	assert.Equal(t, []string{"Heart", "Liver", "Lung"}, res.Organs)
	require.Equal(t, 3, res.Values.Rows)
	assert.Equal(t, []float32{50, 1}, res.Values.Row(0))
	assert.Equal(t, []float32{30, 1}, res.Values.Row(1))
	assert.Equal(t, []float32{45, 2}, res.Values.Row(2))

	res, err = svc.FractionDetected(ctx, service.MeasurementQuery{Organism: "h_sapiens", CellType: "t", Features: []string{"CD3E"}})
	require.NoError(t, err)
	assert.Equal(t, "T", res.CellType)
	assert.Equal(t, []string{"Liver", "Lung"}, res.Organs)
	assert.InDeltaSlice(t, []float32{0.70, 0.80}, res.Values.Data, 1e-6)

	_, err = svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", CellType: "neuron", Features: []string{"ALB"}})
	var ctErr *service.CellTypeNotFoundError
	require.ErrorAs(t, err, &ctErr)
	assert.Equal(t, "neuron", ctErr.CellType)
}

func TestMeasurement_Quantised(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	q := service.MeasurementQuery{
		Organism:        "h_sapiens",
		Organ:           "Lung",
		MeasurementType: "chromatin_accessibility",
		Features:        []string{"chr2-10-90", "CHR1-100-200", "chr1-500-800"},
	}
	avg, err := svc.Averages(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, servicetest.PeakCellTypes, avg.CellTypes)
	assert.InDeltaSlice(t, []float32{0, 2.55}, avg.Values.Row(0), 1e-6)
	assert.InDeltaSlice(t, []float32{0.10, 0.50}, avg.Values.Row(1), 1e-6)
	assert.InDeltaSlice(t, []float32{2.00, 0}, avg.Values.Row(2), 1e-6)

	frac, err := svc.FractionDetected(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "fraction", frac.Subtype)
	assert.Equal(t, avg.Values, frac.Values)
}

func TestMeasurement_Neighborhood(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Averages(ctx, service.MeasurementQuery{
		Organism:            "h_sapiens",
		Organ:               "Lung",
		Features:            []string{"PTPRC", "COL1A1"},
		IncludeNeighborhood: true,
	})
	require.NoError(t, err)
	assert.Equal(t, servicetest.NeighborhoodNames, res.Neighborhoods)
	require.Len(t, res.NeighborhoodValues, 2)
	col1a1 := res.NeighborhoodValues[1]
	assert.Equal(t, 2, col1a1.Rows)
	assert.Equal(t, 4, col1a1.Cols)
	assert.Equal(t, []float32{25, 0.5, 1, 0.5}, col1a1.Row(0))
	assert.Equal(t, []float32{75, 1.5, 3, 1.5}, col1a1.Row(1))
	assert.Equal(t, []float32{0.5, 20, 1, 0}, res.NeighborhoodValues[0].Row(0))

	_, err = svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", CellType: "T", Features: []string{"PTPRC"}, IncludeNeighborhood: true})
	var scopeErr *service.NeighborhoodScopeError
	require.ErrorAs(t, err, &scopeErr)

	_, err = svc.Averages(ctx, service.MeasurementQuery{Organism: "h_sapiens", Organ: "Heart", Features: []string{"PTPRC"}, IncludeNeighborhood: true})
	var nbErr *service.NeighborhoodNotFoundError
	require.ErrorAs(t, err, &nbErr)
	assert.Equal(t, "Heart", nbErr.Organ)
}

func TestNeighborhoods(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Neighborhoods(ctx, "h_sapiens", "Lung", []string{"ACTA2"}, "", true)
	require.NoError(t, err)
	assert.Equal(t, lung().CellTypes, res.CellTypes)
	assert.Equal(t, servicetest.NeighborhoodNames, res.Neighborhoods)
	assert.Equal(t, [][]int64{{60, 100, 40, 120}, {60, 200, 40, 80}}, res.CellCounts)
	assert.Equal(t, []service.Point{{1, 2}, {3.5, -1}}, res.Centroids)
	require.Len(t, res.ConvexHulls, 2)
	assert.Equal(t, []service.Point{{0, 0}, {2, 0}, {1, 3}}, res.ConvexHulls[0])
	assert.Len(t, res.ConvexHulls[1], 4)

	require.Len(t, res.Averages, 1)
	assert.Equal(t, []float32{45, 0, 4.5, 0}, res.Averages[0].Row(1))
	require.Len(t, res.Fractions, 1)
	assert.InDeltaSlice(t, []float32{0.60, 0, 0.20, 0}, res.Fractions[0].Row(0), 1e-6)

	res, err = svc.Neighborhoods(ctx, "h_sapiens", "Lung", nil, "", false)
	require.NoError(t, err)
	assert.Nil(t, res.ConvexHulls)
	assert.Empty(t, res.Averages)
}
