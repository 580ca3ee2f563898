package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// ManagementHandlers serve the management API.
type ManagementHandlers struct {
	svc    *controlplane.ManagementService
	events http.Handler
	logger *logging.ColoredLogger
}

// NewManagementHandlers creates the handlers. events serves the event
// websocket and may be nil.
func NewManagementHandlers(svc *controlplane.ManagementService, events http.Handler, logger *logging.ColoredLogger) *ManagementHandlers {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ManagementHandlers{svc: svc, events: events, logger: logger}
}

// reasonBody is the optional body of terminate and suspend calls.
type reasonBody struct {
	Reason string `json:"reason"`
}

type stateBody struct {
	State string `json:"state"`
}

// Routes registers the management endpoints.
func (h *ManagementHandlers) Routes(r chi.Router) {
	s := h.svc

	r.Route("/v3/assets", func(r chi.Router) {
		r.Post("/", create(s.CreateAsset, func(a *model.Asset) (string, int64) { return a.ID, a.CreatedAt }))
		r.Post("/request", query(s.QueryAssets))
		r.Get("/{id}", get(s.GetAsset))
		r.Put("/{id}", update(s.UpdateAsset, func(a *model.Asset, id string) { a.ID = id }))
		r.Delete("/{id}", remove(s.DeleteAsset))
	})

	r.Route("/v2/policydefinitions", func(r chi.Router) {
		r.Post("/", create(s.CreatePolicy, func(p *model.PolicyDefinition) (string, int64) { return p.ID, p.CreatedAt }))
		r.Post("/request", query(s.QueryPolicies))
		r.Get("/{id}", get(s.GetPolicy))
		r.Put("/{id}", update(s.UpdatePolicy, func(p *model.PolicyDefinition, id string) { p.ID = id }))
		r.Delete("/{id}", remove(s.DeletePolicy))
	})

	r.Route("/v2/contractdefinitions", func(r chi.Router) {
		r.Post("/", create(s.CreateContractDefinition, func(d *model.ContractDefinition) (string, int64) { return d.ID, d.CreatedAt }))
		r.Post("/request", query(s.QueryContractDefinitions))
		r.Get("/{id}", get(s.GetContractDefinition))
		r.Put("/{id}", update(s.UpdateContractDefinition, func(d *model.ContractDefinition, id string) { d.ID = id }))
		r.Delete("/{id}", remove(s.DeleteContractDefinition))
	})

	r.Post("/v2/catalog/request", h.requestCatalog)
	r.Post("/v2/catalog/dataset/request", h.requestDataset)

	r.Route("/v2/contractnegotiations", func(r chi.Router) {
		r.Post("/", h.initiateNegotiation)
		r.Post("/request", query(s.QueryNegotiations))
		r.Get("/{id}", get(s.GetNegotiation))
		r.Get("/{id}/state", h.negotiationState)
		r.Get("/{id}/agreement", get(s.NegotiationAgreement))
		r.Post("/{id}/terminate", withReason(s.TerminateNegotiation))
	})

	r.Route("/v2/contractagreements", func(r chi.Router) {
		r.Post("/request", query(s.QueryAgreements))
		r.Get("/{id}", get(s.GetAgreement))
	})

	r.Route("/v2/transferprocesses", func(r chi.Router) {
		r.Post("/", h.initiateTransfer)
		r.Post("/request", query(s.QueryTransfers))
		r.Get("/{id}", get(s.GetTransfer))
		r.Get("/{id}/state", h.transferState)
		r.Post("/{id}/terminate", withReason(s.TerminateTransfer))
		r.Post("/{id}/suspend", withReason(s.SuspendTransfer))
		r.Post("/{id}/resume", remove(s.ResumeTransfer))
		r.Post("/{id}/deprovision", remove(s.DeprovisionTransfer))
	})

	r.Route("/v2/edrs", func(r chi.Router) {
		r.Post("/request", query(s.QueryEDRs))
		r.Get("/{id}/dataaddress", h.edrDataAddress)
	})

	r.Route("/v2/dataplanes", func(r chi.Router) {
		r.Post("/", h.registerDataPlane)
		r.Get("/", h.listDataPlanes)
		r.Delete("/{id}", remove(s.UnregisterDataPlane))
	})

	if h.events != nil {
		r.Get("/v1/events/ws", h.events.ServeHTTP)
	}
}

func create[T any](fn func(context.Context, *T) error, idOf func(*T) (string, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := new(T)
		if err := httputil.DecodeJSON(r, v); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		if err := fn(r.Context(), v); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		id, at := idOf(v)
		httputil.WriteCreated(w, id, time.UnixMilli(at))
	}
}

func update[T any](fn func(context.Context, *T) error, setID func(*T, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := new(T)
		if err := httputil.DecodeJSON(r, v); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		setID(v, chi.URLParam(r, "id"))
		if err := fn(r.Context(), v); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		httputil.WriteNoContent(w)
	}
}

func get[T any](fn func(context.Context, string) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, v)
	}
}

func query[T any](fn func(context.Context, model.QuerySpec) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q model.QuerySpec
		if err := httputil.DecodeJSONOptional(r, &q); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		items, err := fn(r.Context(), q)
		if err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		httputil.WriteJSON(w, http.StatusOK, items)
	}
}

func remove(fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "id")); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		httputil.WriteNoContent(w)
	}
}

func withReason(fn func(context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body reasonBody
		if err := httputil.DecodeJSONOptional(r, &body); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		if err := fn(r.Context(), chi.URLParam(r, "id"), body.Reason); err != nil {
			httputil.WriteErr(w, r, err)
			return
		}
		httputil.WriteNoContent(w)
	}
}

func (h *ManagementHandlers) requestCatalog(w http.ResponseWriter, r *http.Request) {
	var req controlplane.CatalogRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	cat, err := h.svc.RequestCatalog(r.Context(), req)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cat)
}

func (h *ManagementHandlers) requestDataset(w http.ResponseWriter, r *http.Request) {
	var req controlplane.DatasetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	ds, err := h.svc.RequestDataset(r.Context(), req)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ds)
}

func (h *ManagementHandlers) initiateNegotiation(w http.ResponseWriter, r *http.Request) {
	var req controlplane.ContractRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	n, err := h.svc.InitiateNegotiation(r.Context(), req)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, n.ID, time.UnixMilli(n.CreatedAt))
}

func (h *ManagementHandlers) negotiationState(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetNegotiation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stateBody{State: n.State.String()})
}

func (h *ManagementHandlers) initiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req controlplane.TransferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	tp, err := h.svc.InitiateTransfer(r.Context(), req)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, tp.ID, time.UnixMilli(tp.CreatedAt))
}

func (h *ManagementHandlers) transferState(w http.ResponseWriter, r *http.Request) {
	tp, err := h.svc.GetTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stateBody{State: tp.State.String()})
}

func (h *ManagementHandlers) edrDataAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.svc.EDRDataAddress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, addr)
}

func (h *ManagementHandlers) registerDataPlane(w http.ResponseWriter, r *http.Request) {
	var inst model.DataPlaneInstance
	if err := httputil.DecodeJSON(r, &inst); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if err := h.svc.RegisterDataPlane(r.Context(), inst); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, inst.ID, time.Now())
}

func (h *ManagementHandlers) listDataPlanes(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListDataPlanes(r.Context())
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if list == nil {
		list = []model.DataPlaneInstance{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
