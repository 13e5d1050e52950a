package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlasapprox/server/internal/service"
)

// param returns a query parameter and whether it was given at all.
func param(r *http.Request, name string) (string, bool) {
	q := r.URL.Query()
	if _, ok := q[name]; !ok {
		return "", false
	}
	return q.Get(name), true
}

// requireParams fails on the first parameter absent from the query.
func requireParams(r *http.Request, names ...string) error {
	for _, name := range names {
		if _, ok := param(r, name); !ok {
			return missingParameter(name)
		}
	}
	return nil
}

func measurementType(r *http.Request) string {
	if mt := strings.TrimSpace(r.URL.Query().Get("measurement_type")); mt != "" {
		return mt
	}
	return service.DefaultMeasurementType
}

// flag reads a boolean parameter. Absent, empty and "false"-like values are
// false.
func flag(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) {
	case "", "false", "0", "no", "off":
		return false
	}
	return true
}

// positiveNumber parses a strictly positive integer parameter.
func positiveNumber(r *http.Request, name string) (int, error) {
	raw, _ := param(r, name)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalidParameter(name, raw, fmt.Sprintf("The %q parameter should be an integer.", name))
	}
	if n <= 0 {
		return 0, invalidParameter(name, n, fmt.Sprintf("The %q parameter should be positive.", name))
	}
	return n, nil
}

// optionalFloat parses a float parameter; absent yields zero.
func optionalFloat(r *http.Request, name string) (float32, error) {
	raw, ok := param(r, name)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
	if err != nil || v < 0 {
		return 0, invalidParameter(name, raw, fmt.Sprintf("The %q parameter should be a non-negative number.", name))
	}
	return float32(v), nil
}

// cleanFeatures splits a comma-separated feature list. Quotes and spaces are
// dropped and names are lowercased; lookups are case-insensitive and
// restore the stored spelling.
func cleanFeatures(s string) []string {
	s = strings.NewReplacer(`"`, "", "'", "", " ", "").Replace(s)
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f != "" {
			out = append(out, strings.ToLower(f))
		}
	}
	return out
}

func cleanOrgan(s string) string {
	return strings.TrimSpace(s)
}

// Short lineage names are stored without the "cell" suffix: "B cells" is B.
// Only a whole two-word name matches, so "fat cell" and "NK cell
// proliferating" stay as given.
var shortCellType = regexp.MustCompile(`(?i)^([a-z]{1,2}) cells?$`)

// cleanCellType normalises one cell type name. Underscores stand for
// spaces.
func cleanCellType(s string) string {
	s = strings.Trim(s, " ")
	if strings.HasPrefix(s, "plasma  cell") {
		return "plasma"
	}
	if m := shortCellType.FindStringSubmatch(s); m != nil {
		s = strings.ToUpper(m[1])
	}
	return strings.ReplaceAll(s, "_", " ")
}

// cleanCellTypes splits a comma-separated cell type list.
func cleanCellTypes(s string) []string {
	s = strings.NewReplacer(`"`, "", "'", "").Replace(s)
	var out []string
	for _, ct := range strings.Split(s, ",") {
		if ct != "" {
			out = append(out, cleanCellType(ct))
		}
	}
	return out
}

// cleanOrgans splits a comma-separated organ list; empty yields nil.
func cleanOrgans(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = cleanOrgan(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
