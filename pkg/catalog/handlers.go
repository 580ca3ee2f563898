package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// PathQuery is the catalog query endpoint relative to the catalog listener.
const PathQuery = "/v1alpha/catalog/query"

// QueryHandlers serve the federated catalog query API.
type QueryHandlers struct {
	cache Cache
}

// NewQueryHandlers creates the handlers.
func NewQueryHandlers(cache Cache) *QueryHandlers {
	return &QueryHandlers{cache: cache}
}

// Routes registers the query endpoint.
func (h *QueryHandlers) Routes(r chi.Router) {
	r.Post(PathQuery, h.query)
}

func (h *QueryHandlers) query(w http.ResponseWriter, r *http.Request) {
	var q model.QuerySpec
	if err := httputil.DecodeJSONOptional(r, &q); err != nil {
		httputil.WriteErr(w, r, errors.NewValidationError("body", err.Error(), nil))
		return
	}
	if _, err := q.Normalize(); err != nil {
		httputil.WriteErr(w, r, errors.NewValidationError("query", err.Error(), nil))
		return
	}
	cats, err := h.cache.Query(r.Context(), q)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cats)
}
