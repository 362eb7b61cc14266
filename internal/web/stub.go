package web

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/joestump/transactionsvc/internal/apidoc"
)

// contractStub answers every operation declared by the document. Requests
// are routed and, optionally, validated against the document; valid ones
// get 501 until the operation has a real implementation.
type contractStub struct {
	spec     *openapi3.T
	router   routers.Router
	validate bool
}

func newContractStub(doc *apidoc.Document, validate bool) (*contractStub, error) {
	// Server URLs in the document describe deployments, not this listener.
	// Routing on a shallow copy without them matches on path alone.
	spec := *doc.Spec()
	spec.Servers = nil

	router, err := legacy.NewRouter(&spec, openapi3.DisableExamplesValidation())
	if err != nil {
		return nil, err
	}
	return &contractStub{spec: &spec, router: router, validate: validate}, nil
}

func (c *contractStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, pathParams, err := c.router.FindRoute(r)
	if err != nil {
		if errors.Is(err, routers.ErrMethodNotAllowed) {
			if allow := c.allowedMethods(r.URL.Path); allow != "" {
				w.Header().Set("Allow", allow)
			}
			writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	if c.validate {
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			writeError(w, validationStatus(err), err.Error())
			return
		}
	}

	writeError(w, http.StatusNotImplemented, "Not implemented")
}

// validationStatus maps schema violations to 422 and everything else
// (undecodable bodies, wrong content type) to 400.
func validationStatus(err error) int {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// allowedMethods lists the methods the document declares for path, in the
// form the Allow header expects.
func (c *contractStub) allowedMethods(path string) string {
	if c.spec.Paths == nil {
		return ""
	}
	item := c.spec.Paths.Find(path)
	if item == nil {
		return ""
	}
	var methods []string
	for method := range item.Operations() {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
