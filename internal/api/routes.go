// Package api provides HTTP handlers for the atlas approximation server.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/atlasapprox/server/internal/cache"
	"github.com/atlasapprox/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service *service.Service
	// Cache holds successful responses keyed by request URI; nil disables
	// response caching.
	Cache       *cache.Manager
	Logger      zerolog.Logger
	CORSOrigins []string
}

// env is shared by every handler.
type env struct {
	svc   *service.Service
	cache *cache.Manager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	e := &env{svc: cfg.Service, cache: cfg.Cache}
	r := chi.NewRouter()

	// Middleware
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(e.cached)

		r.Get("/organisms", organismsHandler(e))
		r.Get("/data_sources", dataSourcesHandler(e))
		r.Get("/measurement_types", measurementTypesHandler(e))
		r.Get("/organs", organsHandler(e))
		r.Get("/celltypes", cellTypesHandler(e))
		r.Get("/celltype_location", cellTypeLocationHandler(e))
		r.Get("/celltypexorgan", cellTypeXOrganHandler(e))
		r.Get("/organxorganism", organXOrganismHandler(e))
		r.Get("/celltypexorganism", cellTypeXOrganismHandler(e))
		r.Get("/features", featuresHandler(e))
		r.Get("/has_features", hasFeaturesHandler(e))

		r.Get("/average", measurementHandler(e, service.SubtypeAverage))
		r.Get("/fraction_detected", measurementHandler(e, service.SubtypeFraction))
		r.Get("/neighborhood", neighborhoodHandler(e))

		r.Get("/markers", markersHandler(e))
		r.Get("/highest_measurement", highestMeasurementHandler(e))
		r.Get("/highest_measurement_multiple", highestMeasurementMultipleHandler(e))
		r.Get("/similar_features", similarFeaturesHandler(e))
		r.Get("/similar_celltypes", similarCellTypesHandler(e))
		r.Get("/homologs", homologsHandler(e))
		r.Get("/homology_distances", homologyDistancesHandler(e))
		r.Get("/interaction_partners", interactionPartnersHandler(e))
		r.Get("/feature_sequences", featureSequencesHandler(e))
		r.Get("/surface_features", surfaceFeaturesHandler(e))
	})

	return r
}
