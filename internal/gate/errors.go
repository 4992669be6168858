package gate

import (
	"net/http"

	hcerrors "github.com/hcproxy/hypercube-proxy/pkg/errors"
)

var (
	errEmptyQuery         = hcerrors.New(hcerrors.ErrAdmissionRejected, http.StatusBadRequest, "empty query")
	errMultipleStatements = hcerrors.New(hcerrors.ErrAdmissionRejected, http.StatusBadRequest, "query contains more than one statement")
	errNotSelect          = hcerrors.New(hcerrors.ErrAdmissionRejected, http.StatusBadRequest, "query must begin with SELECT")
)
