package service_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapprox/server/internal/data/store"
	"github.com/atlasapprox/server/internal/service"
	"github.com/atlasapprox/server/internal/service/servicetest"
)

func TestMarkers_MouseLungFibroblast(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.MarkersVsOtherCellTypes(ctx, service.MarkerQuery{
		Organism:  "m_musculus",
		Organ:     "Lung",
		CellTypes: []string{"fibroblast"},
		Number:    3,
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Markers), 3)
	assert.Equal(t, []string{"Col1a1", "Hhip", "Grem2"}, res.Markers)

	frac, err := svc.FractionDetected(ctx, service.MeasurementQuery{Organism: "m_musculus", Organ: "Lung", Features: res.Markers})
	require.NoError(t, err)
	for i, m := range res.Markers {
		row := frac.Values.Row(i)
		for j := 1; j < len(row); j++ {
			assert.Greater(t, row[0], row[j], "%s in %s", m, frac.CellTypes[j])
		}
	}
}

func TestMarkers_MarginsArePositive(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, o := range servicetest.HumanOrgans {
		for _, ct := range o.CellTypes {
			res, err := svc.MarkersVsOtherCellTypes(ctx, service.MarkerQuery{
				Organism:  "h_sapiens",
				Organ:     o.Name,
				CellTypes: []string{ct},
				Number:    10,
			})
			require.NoError(t, err)
			require.Len(t, res.Margins, len(res.Markers))
			for k, m := range res.Markers {
				assert.Greater(t, res.Margins[k], float32(0), "%s %s %s", o.Name, ct, m)
				if k > 0 {
					assert.GreaterOrEqual(t, res.Margins[k-1], res.Margins[k])
				}
			}
		}
	}
}

func TestMarkers_HumanLung(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	q := service.MarkerQuery{Organism: "h_sapiens", Organ: "Lung", CellTypes: []string{"fibroblsat"}, Number: 5}

	res, err := svc.MarkersVsOtherCellTypes(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"fibroblast"}, res.CellTypes)
	assert.Equal(t, []string{"COL1A1", "ACTA2"}, res.Markers)
	assert.InDeltaSlice(t, []float32{0.75, 0.40}, res.Margins, 1e-6)

	q.CellTypes = []string{"fibroblast", "endothelial"}
	res, err = svc.MarkersVsOtherCellTypes(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"PECAM1", "COL1A1", "ACTA2"}, res.Markers)

	q.CellTypes = []string{"macrophage"}
	_, err = svc.MarkersVsOtherCellTypes(ctx, q)
	var ctErr *service.CellTypeNotFoundError
	require.ErrorAs(t, err, &ctErr)
	assert.Equal(t, "Lung", ctErr.Organ)
}

func TestMarkers_SurfaceOnly(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	q := service.MarkerQuery{Organism: "h_sapiens", Organ: "Lung", CellTypes: []string{"T"}, Number: 5, SurfaceOnly: true}

	res, err := svc.MarkersVsOtherCellTypes(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"PTPRC", "CD3E", "CD19"}, res.Markers)

	q.CellTypes = []string{"fibroblast"}
	res, err = svc.MarkersVsOtherCellTypes(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, res.Markers)

	surface, err := svc.SurfaceFeatures(ctx, "h_sapiens", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"PTPRC", "EPCAM", "CD3E", "PECAM1", "CD19"}, surface)

	q.Organism = "m_musculus"
	_, err = svc.MarkersVsOtherCellTypes(ctx, q)
	var refErr *service.ReferenceDataNotFoundError
	require.ErrorAs(t, err, &refErr)
}

func TestMarkers_AllCellTypes(t *testing.T) {
	svc, _ := newService(t)
	res, err := svc.AllMarkersVsOtherCellTypes(context.Background(), service.MarkerQuery{
		Organism: "h_sapiens",
		Organ:    "Lung",
		Number:   2,
	})
	require.NoError(t, err)
	require.Len(t, res.Targets, len(res.Markers))
	assert.Equal(t, []string{"COL1A1", "ACTA2"}, res.Markers[:2])
	assert.Equal(t, []string{"fibroblast", "fibroblast"}, res.Targets[:2])
	assert.Contains(t, res.Targets, "AT2")
	assert.Contains(t, res.Targets, "endothelial")
}

func TestMarkers_VsOtherOrgans(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.MarkersVsOtherOrgans(ctx, service.MarkerQuery{
		Organism:  "h_sapiens",
		Organ:     "lung",
		CellTypes: []string{"fibroblast"},
		Number:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Lung", res.Organ)
	require.Len(t, res.Markers, 3)
	assert.ElementsMatch(t, []string{"COL1A1", "ACTA2", "PTPRC"}, res.Markers)
	assert.Equal(t, "PTPRC", res.Markers[2])

	all, err := svc.AllMarkersVsOtherOrgans(ctx, service.MarkerQuery{Organism: "h_sapiens", CellTypes: []string{"endothelial"}, Number: 1})
	require.NoError(t, err)
	// Heart endothelial is never above both other organs.
	assert.Equal(t, []string{"Liver", "Lung"}, all.Targets)
	assert.Equal(t, "ALB", all.Markers[0])
	assert.Contains(t, []string{"COL1A1", "ACTA2"}, all.Markers[1])

	typo, err := svc.MarkersVsOtherOrgans(ctx, service.MarkerQuery{
		Organism:  "h_sapiens",
		Organ:     "Lung",
		CellTypes: []string{"fibroblst"},
		Number:    5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fibroblast"}, typo.CellTypes)
	assert.Equal(t, res.Markers, typo.Markers)

	allTypo, err := svc.AllMarkersVsOtherOrgans(ctx, service.MarkerQuery{Organism: "h_sapiens", CellTypes: []string{"endothelail"}, Number: 1})
	require.NoError(t, err)
	assert.Equal(t, all.Markers, allTypo.Markers)
	assert.Equal(t, []string{"endothelial"}, allTypo.CellTypes)

	var single *service.SingleOrganError
	_, err = svc.MarkersVsOtherOrgans(ctx, service.MarkerQuery{Organism: "h_sapiens", Organ: "Liver", CellTypes: []string{"hepatocyte"}, Number: 5})
	require.ErrorAs(t, err, &single)
	assert.Equal(t, "hepatocyte", single.CellType)

	_, err = svc.MarkersVsOtherOrgans(ctx, service.MarkerQuery{Organism: "m_musculus", Organ: "Lung", CellTypes: []string{"fibroblast"}, Number: 5})
	require.ErrorAs(t, err, &single)

	_, err = svc.MarkersVsOtherOrgans(ctx, service.MarkerQuery{Organism: "h_sapiens", Organ: "Heart", CellTypes: []string{"T"}, Number: 5})
	var ctErr *service.CellTypeNotFoundError
	require.ErrorAs(t, err, &ctErr)
}

func TestSimilarFeatures(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for _, method := range []string{"correlation", "cosine", "euclidean", "manhattan", "log-euclidean"} {
		res, err := svc.SimilarFeatures(ctx, service.SimilarFeaturesQuery{
			Organism: "h_sapiens",
			Organ:    "Lung",
			Feature:  "col1a1",
			Number:   4,
			Method:   method,
		})
		require.NoError(t, err, method)
		assert.Equal(t, "COL1A1", res.Feature)
		assert.LessOrEqual(t, len(res.Features), 4)
		assert.NotContains(t, res.Features, "COL1A1", method)
		for k := 1; k < len(res.Distances); k++ {
			assert.LessOrEqual(t, res.Distances[k-1], res.Distances[k])
		}
		if method == "correlation" {
			assert.Equal(t, "ACTA2", res.Features[0])
		}
	}

	res, err := svc.SimilarFeatures(ctx, service.SimilarFeaturesQuery{Organism: "h_sapiens", Organ: "Lung", Feature: "ALB", Number: 100, Method: "euclidean"})
	require.NoError(t, err)
	assert.Len(t, res.Features, len(servicetest.HumanFeatures)-1)

	_, err = svc.SimilarFeatures(ctx, service.SimilarFeaturesQuery{Organism: "h_sapiens", Organ: "Lung", Feature: "ALB", Number: 3, Method: "pearson"})
	var methodErr *service.SimilarityMethodError
	require.ErrorAs(t, err, &methodErr)
	assert.Equal(t, "pearson", methodErr.Method)
}

func TestSimilarCellTypes(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.SimilarCellTypes(ctx, service.SimilarCellTypesQuery{
		Organism: "h_sapiens",
		Organ:    "Lung",
		CellType: "fibroblast",
		Features: []string{"COL1A1", "ACTA2", "PECAM1"},
		Number:   3,
		Method:   "euclidean",
	})
	require.NoError(t, err)
	assert.Equal(t, "euclidean", res.Method)
	require.Len(t, res.CellTypes, 3)
	assert.Equal(t, "fibroblast", res.CellTypes[0])
	assert.Equal(t, "Heart", res.Organs[0])
	for k := range res.CellTypes {
		assert.False(t, res.CellTypes[k] == "fibroblast" && res.Organs[k] == "Lung")
	}

	res, err = svc.SimilarCellTypes(ctx, service.SimilarCellTypesQuery{
		Organism: "h_sapiens",
		Organ:    "Lung",
		CellType: "T",
		Features: []string{"PTPRC"},
		Number:   1,
		Method:   "correlation",
	})
	require.NoError(t, err)
	assert.Equal(t, "euclidean", res.Method)
	assert.Equal(t, []string{"T"}, res.CellTypes)
	assert.Equal(t, []string{"Liver"}, res.Organs)
}

func TestHomologs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Homologs(ctx, service.HomologyQuery{
		QueryOrganism:      "h_sapiens",
		Features:           []string{"col1a1", "MYH6"},
		TargetOrganism:     "m_musculus",
		MaxDistance:        1.0,
		MaxDistanceOverMin: 0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"COL1A1", "COL1A1"}, res.Queries)
	assert.Equal(t, []string{"Col1a1", "Col1a2"}, res.Targets)
	assert.InDeltaSlice(t, []float32{1.0 / 256, 2.0 / 256}, res.Distances, 1e-6)

	res, err = svc.Homologs(ctx, service.HomologyQuery{
		QueryOrganism:  "h_sapiens",
		Features:       []string{"ALB"},
		TargetOrganism: "m_musculus",
		MaxDistance:    0.05,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Targets)

	res, err = svc.Homologs(ctx, service.HomologyQuery{QueryOrganism: "h_sapiens", Features: []string{"PTPRC"}, TargetOrganism: "m_musculus"})
	require.NoError(t, err)
	assert.Equal(t, "Ptprc", res.Targets[0])
	assert.Len(t, res.Targets, 4)

	_, err = svc.Homologs(ctx, service.HomologyQuery{QueryOrganism: "d_rerio", Features: []string{"ALB"}, TargetOrganism: "m_musculus"})
	var refErr *service.ReferenceDataNotFoundError
	require.ErrorAs(t, err, &refErr)
}

func TestHomologyDistances(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.HomologyDistances(ctx, "h_sapiens", []string{"COL1A1", "MYH6", "PTPRC"}, "m_musculus", []string{"Hhip", "Myh6", "ptprc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"COL1A1", "PTPRC"}, res.Queries)
	assert.Equal(t, []string{"Hhip", "Ptprc"}, res.Targets)
	assert.InDeltaSlice(t, []float32{60.0 / 256, 0}, res.Distances, 1e-6)

	_, err = svc.HomologyDistances(ctx, "h_sapiens", []string{"COL1A1"}, "m_musculus", nil)
	var notPaired *service.FeaturesNotPairedError
	require.ErrorAs(t, err, &notPaired)
}

func TestHighestMeasurement(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.HighestMeasurement(ctx, "h_sapiens", "pecam1", 2, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"PECAM1"}, res.Features)
	assert.Equal(t, []string{"endothelial", "endothelial"}, res.CellTypes)
	assert.Equal(t, []string{"Heart", "Lung"}, res.Organs)
	assert.Equal(t, []float32{50, 45}, res.Averages.Row(0))
	assert.InDeltaSlice(t, []float32{0.85, 0.90}, res.Fractions.Row(0), 1e-6)

	res, err = svc.HighestMeasurement(ctx, "h_sapiens", "MYH6", 10, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"cardiomyocyte"}, res.CellTypes)

	res, err = svc.HighestMeasurement(ctx, "h_sapiens", "PECAM1", 1, "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Heart", "Liver", "Lung"}, res.Organs)
	assert.Equal(t, []string{"endothelial", "endothelial", "endothelial"}, res.CellTypes)

	_, err = svc.HighestMeasurement(ctx, "h_sapiens", "XIST", 1, "", false)
	var notFound *service.FeatureNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestHighestMeasurementMultiple(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.HighestMeasurementMultiple(ctx, service.HighestQuery{
		Organism:         "h_sapiens",
		Features:         []string{"PTPRC", "CD3E", "XIST"},
		NegativeFeatures: []string{"CD19"},
		Number:           2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PTPRC", "CD3E"}, res.Features)
	assert.Equal(t, []string{"T", "T"}, res.CellTypes)
	assert.Equal(t, []string{"Liver", "Lung"}, res.Organs)
	assert.Equal(t, []float32{35, 40}, res.Averages.Row(0))
	assert.Greater(t, res.Scores[0], res.Scores[1])

	_, err = svc.HighestMeasurementMultiple(ctx, service.HighestQuery{Organism: "h_sapiens", Features: []string{"XIST"}, Number: 2})
	var missing *service.SomeFeaturesNotFoundError
	require.ErrorAs(t, err, &missing)
}

func TestInteractionPartners(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.InteractionPartners(ctx, "h_sapiens", []string{"ptprc", "CD3E"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"PTPRC", "CD3E"}, res.Queries)
	assert.Equal(t, []string{"CD22", "CD247"}, res.Targets)

	_, err = svc.InteractionPartners(ctx, "h_sapiens", []string{"chr1-100-200"}, "chromatin_accessibility")
	var mtErr *service.MeasurementTypeNotFoundError
	require.ErrorAs(t, err, &mtErr)

	noRef := service.New(service.Config{
		Backend: store.NewLocalBackend(servicetest.BuildAtlas(t)),
		Logger:  zerolog.Nop(),
	})
	_, err = noRef.InteractionPartners(ctx, "h_sapiens", []string{"PTPRC"}, "")
	var refErr *service.ReferenceDataNotFoundError
	require.ErrorAs(t, err, &refErr)
}

func TestFeatureSequences(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.FeatureSequences(ctx, "h_sapiens", []string{"ptprc", "ALB", "COL1A1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "protein", res.Type)
	assert.Equal(t, []string{"PTPRC", "ALB", "COL1A1"}, res.Features)
	assert.Equal(t, []string{servicetest.Sequence("PTPRC"), servicetest.Sequence("ALB"), servicetest.Sequence("COL1A1")}, res.Sequences)

	_, err = svc.FeatureSequences(ctx, "m_musculus", []string{"Hhip"}, "")
	var seqErr *service.FeatureSequencesNotFoundError
	require.ErrorAs(t, err, &seqErr)

	_, err = svc.FeatureSequences(ctx, "h_sapiens", []string{"ALB", "XIST"}, "")
	var missing *service.SomeFeaturesNotFoundError
	require.ErrorAs(t, err, &missing)
}
