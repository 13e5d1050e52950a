package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/atlasapprox/server/internal/service"
)

// markersHandler compares a cell type against the other cell types of its
// organ (versus=celltypes, the default) or against the same cell type in
// other organs (versus=organs). all=true enumerates every cell type or organ.
func markersHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "number"); err != nil {
			e.fail(w, r, err)
			return
		}
		number, err := positiveNumber(r, "number")
		if err != nil {
			e.fail(w, r, err)
			return
		}
		versus := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("versus")))
		if versus == "" {
			versus = "celltypes"
		}
		all := flag(r, "all")
		organism, _ := param(r, "organism")
		organ, _ := param(r, "organ")
		cellTypes, _ := param(r, "celltype")
		q := service.MarkerQuery{
			Organism:        organism,
			Organ:           cleanOrgan(organ),
			CellTypes:       cleanCellTypes(cellTypes),
			Number:          number,
			MeasurementType: measurementType(r),
			SurfaceOnly:     flag(r, "surface_only"),
		}

		var res *service.MarkerResult
		switch versus {
		case "celltypes":
			if err = requireParams(r, "organ"); err != nil {
				break
			}
			if all {
				res, err = e.svc.AllMarkersVsOtherCellTypes(r.Context(), q)
				break
			}
			if len(q.CellTypes) == 0 {
				err = missingParameter("celltype")
				break
			}
			res, err = e.svc.MarkersVsOtherCellTypes(r.Context(), q)
		case "organs":
			if len(q.CellTypes) != 1 {
				err = invalidParameter("celltype", cellTypes, "Markers across organs take exactly one cell type.")
				break
			}
			if all {
				res, err = e.svc.AllMarkersVsOtherOrgans(r.Context(), q)
				break
			}
			if err = requireParams(r, "organ"); err != nil {
				break
			}
			res, err = e.svc.MarkersVsOtherOrgans(r.Context(), q)
		default:
			err = invalidParameter("versus", versus, fmt.Sprintf("Unknown comparison: %s.", versus))
		}
		if err != nil {
			e.fail(w, r, err)
			return
		}

		response := map[string]interface{}{
			"organism":         res.Organism,
			"measurement_type": res.MeasurementType,
			"versus":           versus,
			"markers":          nonNil(res.Markers),
			"margins":          nonNil(res.Margins),
		}
		if res.Organ != "" {
			response["organ"] = res.Organ
		}
		if len(res.CellTypes) == 1 {
			response["celltype"] = res.CellTypes[0]
		} else {
			response["celltypes"] = res.CellTypes
		}
		if all {
			response["targets"] = nonNil(res.Targets)
		}
		e.respond(w, r, response)
	}
}

func highestMeasurementHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "feature", "number"); err != nil {
			e.fail(w, r, err)
			return
		}
		number, err := positiveNumber(r, "number")
		if err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		feature, _ := param(r, "feature")
		res, err := e.svc.HighestMeasurement(r.Context(), organism, strings.TrimSpace(feature), number, measurementType(r), flag(r, "per_organ"))
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":          res.Organism,
			"measurement_type":  res.MeasurementType,
			"feature":           res.Features[0],
			"organs":            res.Organs,
			"celltypes":         res.CellTypes,
			"average":           res.Averages.Row(0),
			"fraction_detected": res.Fractions.Row(0),
			"unit":              res.Unit,
		})
	}
}

func highestMeasurementMultipleHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "features", "number"); err != nil {
			e.fail(w, r, err)
			return
		}
		number, err := positiveNumber(r, "number")
		if err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		features, _ := param(r, "features")
		negative, _ := param(r, "features_negative")
		res, err := e.svc.HighestMeasurementMultiple(r.Context(), service.HighestQuery{
			Organism:         organism,
			Features:         cleanFeatures(features),
			NegativeFeatures: cleanFeatures(negative),
			Number:           number,
			MeasurementType:  measurementType(r),
			PerOrgan:         flag(r, "per_organ"),
		})
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":          res.Organism,
			"measurement_type":  res.MeasurementType,
			"features":          res.Features,
			"organs":            res.Organs,
			"celltypes":         res.CellTypes,
			"average":           res.Averages,
			"fraction_detected": res.Fractions,
			"score":             res.Scores,
			"unit":              res.Unit,
		})
	}
}

func similarityMethod(r *http.Request) string {
	if m := strings.TrimSpace(r.URL.Query().Get("method")); m != "" {
		return m
	}
	return service.MethodCorrelation
}

func similarFeaturesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "organ", "feature", "number"); err != nil {
			e.fail(w, r, err)
			return
		}
		number, err := positiveNumber(r, "number")
		if err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		organ, _ := param(r, "organ")
		feature, _ := param(r, "feature")
		res, err := e.svc.SimilarFeatures(r.Context(), service.SimilarFeaturesQuery{
			Organism:        organism,
			Organ:           cleanOrgan(organ),
			Feature:         strings.TrimSpace(feature),
			Number:          number,
			Method:          similarityMethod(r),
			MeasurementType: measurementType(r),
		})
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         res.Organism,
			"organ":            res.Organ,
			"measurement_type": measurementType(r),
			"method":           res.Method,
			"feature":          res.Feature,
			"similar_features": res.Features,
			"distances":        res.Distances,
		})
	}
}

func similarCellTypesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "organ", "celltype", "features", "number"); err != nil {
			e.fail(w, r, err)
			return
		}
		number, err := positiveNumber(r, "number")
		if err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		organ, _ := param(r, "organ")
		cellType, _ := param(r, "celltype")
		rawFeatures, _ := param(r, "features")
		features := cleanFeatures(rawFeatures)
		if len(features) == 0 {
			e.fail(w, r, invalidParameter("features", rawFeatures, "Feature string not recognised."))
			return
		}
		res, err := e.svc.SimilarCellTypes(r.Context(), service.SimilarCellTypesQuery{
			Organism:        organism,
			Organ:           cleanOrgan(organ),
			CellType:        cleanCellType(cellType),
			Features:        features,
			Number:          number,
			Method:          similarityMethod(r),
			MeasurementType: measurementType(r),
		})
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":          res.Organism,
			"organ":             res.Organ,
			"measurement_type":  measurementType(r),
			"celltype":          res.CellType,
			"method":            res.Method,
			"features":          res.Features,
			"similar_celltypes": res.CellTypes,
			"similar_organs":    res.Organs,
			"distances":         res.Distances,
		})
	}
}

func homologsHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "source_organism", "target_organism", "features"); err != nil {
			e.fail(w, r, err)
			return
		}
		source, _ := param(r, "source_organism")
		target, _ := param(r, "target_organism")
		if source == target {
			e.fail(w, r, invalidParameter("organism", source, fmt.Sprintf("Source and target organisms cannot be the same: %s.", source)))
			return
		}
		maxDist, err := optionalFloat(r, "max_distance")
		if err != nil {
			e.fail(w, r, err)
			return
		}
		overMin, err := optionalFloat(r, "max_distance_over_min")
		if err != nil {
			e.fail(w, r, err)
			return
		}
		raw, _ := param(r, "features")
		features, err := e.svc.CanonicalFeatures(r.Context(), source, cleanFeatures(raw), service.DefaultMeasurementType)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		res, err := e.svc.Homologs(r.Context(), service.HomologyQuery{
			QueryOrganism:      source,
			Features:           features,
			TargetOrganism:     target,
			MaxDistance:        maxDist,
			MaxDistanceOverMin: overMin,
		})
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, homologiesResponse(res))
	}
}

func homologyDistancesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "source_organism", "target_organism", "source_features", "target_features"); err != nil {
			e.fail(w, r, err)
			return
		}
		source, _ := param(r, "source_organism")
		target, _ := param(r, "target_organism")
		sourceFeatures, _ := param(r, "source_features")
		targetFeatures, _ := param(r, "target_features")
		res, err := e.svc.HomologyDistances(r.Context(), source, cleanFeatures(sourceFeatures), target, cleanFeatures(targetFeatures))
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, homologiesResponse(res))
	}
}

func homologiesResponse(h *service.Homologies) map[string]interface{} {
	return map[string]interface{}{
		"source_organism": h.QueryOrganism,
		"target_organism": h.TargetOrganism,
		"queries":         nonNil(h.Queries),
		"targets":         nonNil(h.Targets),
		"distances":       nonNil(h.Distances),
	}
}

func interactionPartnersHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "features"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		raw, _ := param(r, "features")
		mt := measurementType(r)
		res, err := e.svc.InteractionPartners(r.Context(), organism, cleanFeatures(raw), mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         res.Organism,
			"measurement_type": mt,
			"queries":          nonNil(res.Queries),
			"targets":          nonNil(res.Targets),
		})
	}
}

func featureSequencesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "features"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		raw, _ := param(r, "features")
		mt := measurementType(r)
		res, err := e.svc.FeatureSequences(r.Context(), organism, cleanFeatures(raw), mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         res.Organism,
			"measurement_type": mt,
			"type":             res.Type,
			"features":         res.Features,
			"sequences":        res.Sequences,
		})
	}
}

func surfaceFeaturesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		mt := measurementType(r)
		features, err := e.svc.SurfaceFeatures(r.Context(), organism, mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         organism,
			"measurement_type": mt,
			"features":         features,
		})
	}
}

// nonNil keeps empty results as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
