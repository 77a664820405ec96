package api

import (
	"errors"
	"net/http"

	"github.com/Saloed/GalaxyAPI/internal/apperr"
	"github.com/Saloed/GalaxyAPI/internal/render"
)

// failure is the HTTP view of a pipeline error.
type failure struct {
	status  int
	message string
	kind    string
}

// classify maps typed pipeline errors to a status. Only validation messages
// reach the client verbatim.
func classify(err error) failure {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		execution  *apperr.ExecutionError
		invariant  *apperr.AssemblyInvariantError
		config     *apperr.ConfigurationError
		configs    apperr.ConfigurationErrors
	)
	// Invariant and execution errors may wrap a ValidationError raised by a
	// nested select; those are server faults, so they are matched first.
	switch {
	case errors.As(err, &invariant):
		return failure{status: http.StatusInternalServerError, message: "Internal server error.", kind: "assembly_invariant"}
	case errors.As(err, &config), errors.As(err, &configs):
		return failure{status: http.StatusInternalServerError, message: "Internal server error.", kind: "configuration"}
	case errors.As(err, &execution):
		return failure{status: http.StatusBadGateway, message: "Query execution failed.", kind: "execution"}
	case errors.As(err, &notFound):
		return failure{status: http.StatusNotFound, message: "Not found.", kind: "not_found"}
	case errors.As(err, &validation):
		return failure{status: http.StatusBadRequest, message: validation.Error(), kind: "validation"}
	default:
		return failure{status: http.StatusInternalServerError, message: "Internal server error.", kind: "internal"}
	}
}

func writeError(w http.ResponseWriter, format render.Format, status int, message string) {
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(status)
	_ = render.WriteError(w, format, message)
}
