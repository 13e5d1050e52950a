package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/atlasapprox/server/internal/service"
)

// errorDetail is the machine-readable part of an error response.
type errorDetail struct {
	Type             string   `json:"type"`
	MissingParameter string   `json:"missing_parameter,omitempty"`
	InvalidParameter string   `json:"invalid_parameter,omitempty"`
	InvalidValue     any      `json:"invalid_value,omitempty"`
	InvalidReason    string   `json:"invalid_reason,omitempty"`
	MissingData      string   `json:"missing_data,omitempty"`
	Features1        []string `json:"features1,omitempty"`
	Features2        []string `json:"features2,omitempty"`
}

type errorResponse struct {
	Message string       `json:"message"`
	Error   *errorDetail `json:"error,omitempty"`
}

// requestError is a malformed request detected before reaching the service.
type requestError struct {
	body errorResponse
}

func (e *requestError) Error() string { return e.body.Message }

func missingParameter(name string) error {
	return &requestError{body: errorResponse{
		Message: fmt.Sprintf("The %q parameter is required.", name),
		Error:   &errorDetail{Type: "missing_parameter", MissingParameter: name},
	}}
}

func invalidParameter(name string, value any, message string) error {
	return &requestError{body: errorResponse{
		Message: message,
		Error:   &errorDetail{Type: "invalid_parameter", InvalidParameter: name, InvalidValue: value},
	}}
}

func invalid(param string, value any, msg string) (int, errorResponse) {
	return http.StatusBadRequest, errorResponse{
		Message: msg,
		Error:   &errorDetail{Type: "invalid_parameter", InvalidParameter: param, InvalidValue: value},
	}
}

func missingData(what, msg string) (int, errorResponse) {
	return http.StatusBadRequest, errorResponse{
		Message: msg,
		Error:   &errorDetail{Type: "missing_data", MissingData: what},
	}
}

// describe maps an error to a status code and response body. Errors caused
// by the request are 400; anything else is 500.
func describe(err error) (int, errorResponse) {
	var (
		reqErr       *requestError
		organismErr  *service.OrganismNotFoundError
		mtErr        *service.MeasurementTypeNotFoundError
		organErr     *service.OrganNotFoundError
		cellTypeErr  *service.CellTypeNotFoundError
		featureErr   *service.FeatureNotFoundError
		featuresErr  *service.SomeFeaturesNotFoundError
		tooManyErr   *service.TooManyFeaturesError
		methodErr    *service.SimilarityMethodError
		pairedErr    *service.FeaturesNotPairedError
		nbErr        *service.NeighborhoodNotFoundError
		scopeErr     *service.OrganCellTypeError
		nbScopeErr   *service.NeighborhoodScopeError
		singleErr    *service.SingleOrganError
		sequencesErr *service.FeatureSequencesNotFoundError
		referenceErr *service.ReferenceDataNotFoundError
	)

	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.body
	case errors.As(err, &organismErr):
		return invalid("organism", organismErr.Organism, fmt.Sprintf("Organism not found: %s.", organismErr.Organism))
	case errors.As(err, &mtErr):
		return invalid("measurement_type", mtErr.MeasurementType, fmt.Sprintf("Measurement type not found: %s.", mtErr.MeasurementType))
	case errors.As(err, &organErr):
		return invalid("organ", organErr.Organ, fmt.Sprintf("Organ not found: %s.", organErr.Organ))
	case errors.As(err, &cellTypeErr):
		return invalid("celltype", cellTypeErr.CellType, fmt.Sprintf("Cell type not found: %s.", cellTypeErr.CellType))
	case errors.As(err, &featureErr):
		return invalid("feature", featureErr.Feature, fmt.Sprintf("Feature could not be found: %s.", featureErr.Feature))
	case errors.As(err, &featuresErr):
		return invalid("features", featuresErr.Features, fmt.Sprintf("Some features could not be found: %v.", featuresErr.Features))
	case errors.As(err, &tooManyErr):
		return http.StatusBadRequest, errorResponse{
			Message: fmt.Sprintf("Too many features requested: %d, at most %d.", tooManyErr.Requested, tooManyErr.Max),
			Error:   &errorDetail{Type: "invalid_parameter", InvalidParameter: "features", InvalidReason: "too_many"},
		}
	case errors.As(err, &methodErr):
		return invalid("method", methodErr.Method, fmt.Sprintf("Similarity method not supported: %s.", methodErr.Method))
	case errors.As(err, &pairedErr):
		return http.StatusBadRequest, errorResponse{
			Message: "Features are not paired.",
			Error:   &errorDetail{Type: "invalid_parameter", Features1: pairedErr.Features1, Features2: pairedErr.Features2},
		}
	case errors.As(err, &scopeErr):
		if scopeErr.Organ == "" && scopeErr.CellType == "" {
			return http.StatusBadRequest, errorResponse{
				Message: `Either "organ" or "celltype" parameter is required.`,
				Error:   &errorDetail{Type: "missing_parameter", MissingParameter: "organ^celltype"},
			}
		}
		return http.StatusBadRequest, errorResponse{
			Message: `Only one of "organ" or "celltype" parameter can be set.`,
			Error:   &errorDetail{Type: "too_many_parameters", InvalidParameter: "organ^celltype"},
		}
	case errors.As(err, &nbScopeErr):
		return invalid("celltype", nbScopeErr.CellType, "Neighborhoods are defined per organ, not per cell type.")
	case errors.As(err, &singleErr):
		if singleErr.CellType != "" {
			return invalid("celltype", singleErr.CellType, fmt.Sprintf("Cell type found in a single organ: %s.", singleErr.CellType))
		}
		return invalid("organism", singleErr.Organism, fmt.Sprintf("Organism has a single organ: %s.", singleErr.Organism))
	case errors.As(err, &nbErr):
		return missingData("neighborhood", fmt.Sprintf("This organism has no neighborhood stored: %s.", nbErr.Organism))
	case errors.As(err, &sequencesErr):
		return missingData("feature_sequences", fmt.Sprintf("This organism has no feature sequences stored: %s.", sequencesErr.Organism))
	case errors.As(err, &referenceErr):
		return missingData(referenceErr.Kind, fmt.Sprintf("This organism has no %s data: %s.", referenceErr.Kind, referenceErr.Organism))
	}
	return http.StatusInternalServerError, errorResponse{Message: "Internal server error."}
}

func (e *env) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describe(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	} else {
		hlog.FromRequest(r).Debug().Err(err).Msg("bad request")
	}
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// respond writes v as JSON and caches it under the request URI.
func (e *env) respond(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.fail(w, r, fmt.Errorf("encode response: %w", err))
		return
	}
	if e.cache != nil {
		e.cache.SetQuery(queryKey(r), data)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func queryKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// cached serves a stored response for a repeated request URI.
func (e *env) cached(next http.Handler) http.Handler {
	if e.cache == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if data, ok := e.cache.GetQuery(queryKey(r)); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(data)
			return
		}
		next.ServeHTTP(w, r)
	})
}
