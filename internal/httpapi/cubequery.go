package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
var simpleExprPattern = regexp.MustCompile(`(?i)^[A-Za-z_][A-Za-z0-9_.]*\([A-Za-z_][A-Za-z0-9_.]*\)( AS [A-Za-z_][A-Za-z0-9_]*)?$`)
var filterConditionPattern = regexp.MustCompile(`(?i)^[A-Za-z_][A-Za-z0-9_.]*\s*(=|!=|<>|<=|>=|<|>)\s*('(?:[^'\\]|\\.)*'|-?\d+(?:\.\d+)?)$`)
var filterSplitPattern = regexp.MustCompile(`(?i)\s+AND\s+`)

var errMissingDims = errors.New("query parameter 'dims' is required")
var errInvalidDims = errors.New("query parameter 'dims' contains an invalid identifier")
var errInvalidMetrics = errors.New("query parameter 'metrics' contains an invalid aggregate expression")
var errInvalidFilters = errors.New("query parameter 'filters' contains an invalid predicate")

// buildCubeQuery turns the convenience query parameters of GET /cube and
// GET /cube.json into a SELECT ... [WHERE ...] GROUP BY statement against
// the configured source table. It only accepts bare identifiers for dims,
// simple `func(col)[ AS alias]` aggregates for metrics, and a conjunction of
// `col op literal` conditions for filters, so the resulting string is
// always a syntactically narrow, safe SELECT regardless of what a caller
// supplies.
func buildCubeQuery(r *http.Request, sourceTable string) (string, error) {
	dimsParam := r.URL.Query().Get("dims")
	if strings.TrimSpace(dimsParam) == "" {
		return "", errMissingDims
	}
	dims := splitAndTrim(dimsParam)
	for _, dim := range dims {
		if !identifierPattern.MatchString(dim) {
			return "", errInvalidDims
		}
	}

	var metrics []string
	if metricsParam := r.URL.Query().Get("metrics"); strings.TrimSpace(metricsParam) != "" {
		metrics = splitAndTrim(metricsParam)
		for _, metric := range metrics {
			if !simpleExprPattern.MatchString(metric) {
				return "", errInvalidMetrics
			}
		}
	}

	var whereClause string
	if filtersParam := r.URL.Query().Get("filters"); strings.TrimSpace(filtersParam) != "" {
		conditions := filterSplitPattern.Split(strings.TrimSpace(filtersParam), -1)
		for _, condition := range conditions {
			condition = strings.TrimSpace(condition)
			if !filterConditionPattern.MatchString(condition) {
				return "", errInvalidFilters
			}
		}
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	selectList := append(append([]string{}, dims...), metrics...)
	query := "SELECT " + strings.Join(selectList, ", ") + " FROM " + sourceTable +
		whereClause + " GROUP BY " + strings.Join(dims, ", ")
	return query, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
