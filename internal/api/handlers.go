package api

import (
	"net/http"

	"github.com/atlasapprox/server/internal/service"
)

func organismsHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt := measurementType(r)
		organisms, err := e.svc.Organisms(r.Context(), mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"measurement_type": mt,
			"organisms":        organisms,
		})
	}
}

func dataSourcesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := e.svc.DataSources(r.Context())
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, sources)
	}
}

func measurementTypesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		mts, err := e.svc.MeasurementTypes(r.Context(), organism)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":          organism,
			"measurement_types": mts,
		})
	}
}

func organsHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		mt := measurementType(r)
		organs, err := e.svc.Organs(r.Context(), organism, mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         organism,
			"measurement_type": mt,
			"organs":           organs,
		})
	}
}

func cellTypesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "organ"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		organ, _ := param(r, "organ")
		mt := measurementType(r)
		a, err := e.svc.CellTypeAbundance(r.Context(), organism, cleanOrgan(organ), mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		response := map[string]interface{}{
			"organism":         organism,
			"organ":            a.Organ,
			"measurement_type": mt,
			"celltypes":        a.CellTypes,
		}
		if flag(r, "include_abundance") {
			response["abundance"] = a.CellCounts
		}
		e.respond(w, r, response)
	}
}

func cellTypeLocationHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "celltype"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		raw, _ := param(r, "celltype")
		cellType := cleanCellType(raw)
		mt := measurementType(r)
		organs, err := e.svc.CellTypeLocation(r.Context(), organism, cellType, mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         organism,
			"measurement_type": mt,
			"celltype":         cellType,
			"organs":           organs,
		})
	}
}

func cellTypeXOrganHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		organs, _ := param(r, "organs")
		mt := measurementType(r)
		table, err := e.svc.CellTypeXOrgan(r.Context(), organism, cleanOrgans(organs), mt, flag(r, "boolean"))
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         organism,
			"measurement_type": mt,
			"organs":           table.Columns,
			"celltypes":        table.Rows,
			"detected":         table.Counts,
		})
	}
}

func organXOrganismHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "celltype"); err != nil {
			e.fail(w, r, err)
			return
		}
		raw, _ := param(r, "celltype")
		cellType := cleanCellType(raw)
		mt := measurementType(r)
		table, err := e.svc.OrganXOrganism(r.Context(), cellType, mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"celltype":         cellType,
			"measurement_type": mt,
			"organs":           table.Rows,
			"organisms":        table.Columns,
			"detected":         table.Counts,
		})
	}
}

func cellTypeXOrganismHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt := measurementType(r)
		table, err := e.svc.CellTypeXOrganism(r.Context(), mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"measurement_type": mt,
			"celltypes":        table.Rows,
			"organisms":        table.Columns,
			"detected":         table.Counts,
		})
	}
}

func featuresHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		mt := measurementType(r)
		features, err := e.svc.DisplayFeatures(r.Context(), organism, mt)
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

func hasFeaturesHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "features"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		raw, _ := param(r, "features")
		features := cleanFeatures(raw)
		mt := measurementType(r)
		found, err := e.svc.HasFeatures(r.Context(), organism, features, mt)
		if err != nil {
			e.fail(w, r, err)
			return
		}
		e.respond(w, r, map[string]interface{}{
			"organism":         organism,
			"measurement_type": mt,
			"features":         features,
			"found":            found,
		})
	}
}

// measurementHandler serves /average and /fraction_detected.
func measurementHandler(e *env, subtype string) http.HandlerFunc {
	key := "average"
	if subtype == service.SubtypeFraction {
		key = "fraction_detected"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "features"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		rawFeatures, _ := param(r, "features")
		organ, _ := param(r, "organ")
		cellType, _ := param(r, "celltype")
		q := service.MeasurementQuery{
			Organism:            organism,
			Features:            cleanFeatures(rawFeatures),
			MeasurementType:     measurementType(r),
			Subtype:             subtype,
			Organ:               cleanOrgan(organ),
			CellType:            cleanCellType(cellType),
			IncludeNeighborhood: flag(r, "include_neighborhood"),
		}
		if len(q.Features) == 0 {
			e.fail(w, r, invalidParameter("features", rawFeatures, "Feature string not recognised."))
			return
		}
		res, err := e.svc.Measurement(r.Context(), q)
		if err != nil {
			e.fail(w, r, err)
			return
		}

		response := map[string]interface{}{
			"organism":         res.Organism,
			"measurement_type": res.MeasurementType,
			"features":         res.Features,
		}
		if subtype == service.SubtypeAverage {
			response["unit"] = res.Unit
		}
		switch {
		case q.IncludeNeighborhood:
			response["organ"] = res.Organ
			response["celltypes"] = res.CellTypes
			response["neighborhoods"] = res.Neighborhoods
			response[key] = res.NeighborhoodValues
		case res.CellType != "":
			response["celltype"] = res.CellType
			response["organs"] = res.Organs
			response[key] = res.Values
		default:
			response["organ"] = res.Organ
			response["celltypes"] = res.CellTypes
			response[key] = res.Values
		}
		e.respond(w, r, response)
	}
}

func neighborhoodHandler(e *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireParams(r, "organism", "features", "organ"); err != nil {
			e.fail(w, r, err)
			return
		}
		organism, _ := param(r, "organism")
		organ, _ := param(r, "organ")
		rawFeatures, _ := param(r, "features")
		features := cleanFeatures(rawFeatures)
		includeEmbedding := flag(r, "include_embedding")
		res, err := e.svc.Neighborhoods(r.Context(), organism, cleanOrgan(organ), features, measurementType(r), includeEmbedding)
		if err != nil {
			e.fail(w, r, err)
			return
		}

		response := map[string]interface{}{
			"organism":         res.Organism,
			"organ":            res.Organ,
			"measurement_type": res.MeasurementType,
			"features":         res.Features,
			"celltypes":        res.CellTypes,
			"neighborhoods":    res.Neighborhoods,
			"ncells":           res.CellCounts,
			"average":          res.Averages,
			"unit":             res.Unit,
		}
		if res.Fractions != nil {
			response["fraction_detected"] = res.Fractions
		}
		if includeEmbedding {
			response["coords_centroid"] = res.Centroids
			response["convex_hull"] = res.ConvexHulls
		}
		e.respond(w, r, response)
	}
}
