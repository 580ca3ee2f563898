package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code.
// Encoding errors are ignored; the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a plain {"error": msg} body.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, map[string]any{"error": msg})
}

// WriteErr maps a typed error onto its status code and the standard error
// body, tagging it with the chi request id when one is present.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	errors.WriteHTTPError(w, err, middleware.GetReqID(r.Context()))
}

// IDResponse is returned by every management create call.
type IDResponse struct {
	Type      string `json:"@type"`
	ID        string `json:"@id"`
	CreatedAt int64  `json:"createdAt"`
}

// WriteCreated answers a create request with the new entity id.
func WriteCreated(w http.ResponseWriter, id string, createdAt time.Time) {
	WriteJSON(w, http.StatusOK, IDResponse{Type: "IdResponse", ID: id, CreatedAt: createdAt.UnixMilli()})
}

// WriteNoContent answers with 204.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
