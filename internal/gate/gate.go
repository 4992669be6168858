// Package gate implements the admission check every incoming query must
// pass before it reaches canonicalization: single read-only statement,
// no mutating keywords.
package gate

import (
	"net/http"
	"strings"

	hcerrors "github.com/hcproxy/hypercube-proxy/pkg/errors"
)

var forbiddenTokens = []string{
	"insert", "update", "delete", "alter", "drop", "truncate", "merge",
}

// Admit reports whether query is safe to route: a single SELECT statement
// with no mutating keyword anywhere in its text. It returns a non-nil error
// describing the first rule violated, or nil if the query is admitted.
func Admit(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return errEmptyQuery
	}

	body := strings.TrimSuffix(trimmed, ";")
	if strings.ContainsRune(body, ';') {
		return errMultipleStatements
	}

	firstWord := firstKeyword(body)
	if !strings.EqualFold(firstWord, "select") {
		return errNotSelect
	}

	lower := strings.ToLower(body)
	for _, token := range forbiddenTokens {
		if strings.Contains(lower, token) {
			return hcerrors.Newf(hcerrors.ErrAdmissionRejected, http.StatusBadRequest, "query contains forbidden keyword %q", token)
		}
	}

	return nil
}

func firstKeyword(body string) string {
	trimmed := strings.TrimLeft(body, " \t\n\r")
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end == -1 {
		return trimmed
	}
	return trimmed[:end]
}
