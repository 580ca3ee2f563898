package signaling

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// DataPlaneHandlers serves the signaling API of a data plane.
type DataPlaneHandlers struct {
	flows  Client
	logger *logging.ColoredLogger
}

// NewDataPlaneHandlers exposes flows over HTTP.
func NewDataPlaneHandlers(flows Client, logger *logging.ColoredLogger) *DataPlaneHandlers {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DataPlaneHandlers{flows: flows, logger: logger}
}

// Routes registers the signaling endpoints.
func (h *DataPlaneHandlers) Routes(r chi.Router) {
	r.Post(PathDataFlows, h.start)
	r.Get(PathCheck, h.check)
	r.Get(PathDataFlows+"/{id}/state", h.state)
	r.Post(PathDataFlows+"/{id}/suspend", h.suspend)
	r.Post(PathDataFlows+"/{id}/terminate", h.terminate)
}

func (h *DataPlaneHandlers) start(w http.ResponseWriter, r *http.Request) {
	var msg DataFlowStartMessage
	if err := httputil.DecodeJSON(r, &msg); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	resp, err := h.flows.Start(r.Context(), msg)
	if err != nil {
		h.logger.ComponentWarn(logging.ComponentSignaling, "Data flow start rejected",
			zap.String("process_id", msg.ProcessID), zap.Error(err))
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *DataPlaneHandlers) check(w http.ResponseWriter, r *http.Request) {
	if err := h.flows.Check(r.Context()); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *DataPlaneHandlers) state(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.flows.GetState(r.Context(), id)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DataFlowStatusMessage{ID: id, State: st})
}

func (h *DataPlaneHandlers) suspend(w http.ResponseWriter, r *http.Request) {
	var msg DataFlowSuspendMessage
	if err := httputil.DecodeJSONOptional(r, &msg); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if err := h.flows.Suspend(r.Context(), chi.URLParam(r, "id"), msg.Reason); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *DataPlaneHandlers) terminate(w http.ResponseWriter, r *http.Request) {
	var msg DataFlowTerminateMessage
	if err := httputil.DecodeJSONOptional(r, &msg); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if err := h.flows.Terminate(r.Context(), chi.URLParam(r, "id"), msg.Reason); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// TransferCallbacks receives data plane reports on the control plane.
type TransferCallbacks interface {
	CompleteTransfer(ctx context.Context, id string) error
	FailTransfer(ctx context.Context, id, reason string) error
}

// Registrar accepts data plane registrations.
type Registrar interface {
	Register(ctx context.Context, instance model.DataPlaneInstance) error
}

// ControlHandlers serves the control API of a control plane.
type ControlHandlers struct {
	transfers TransferCallbacks
	registrar Registrar
	logger    *logging.ColoredLogger
}

// NewControlHandlers creates the control API. registrar may be nil when
// remote registration is not offered.
func NewControlHandlers(transfers TransferCallbacks, registrar Registrar, logger *logging.ColoredLogger) *ControlHandlers {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ControlHandlers{transfers: transfers, registrar: registrar, logger: logger}
}

// Routes registers the control endpoints.
func (h *ControlHandlers) Routes(r chi.Router) {
	r.Post(PathTransferProcesses+"/{id}/complete", h.complete)
	r.Post(PathTransferProcesses+"/{id}/fail", h.fail)
	if h.registrar != nil {
		r.Post(PathDataPlanes, h.register)
	}
}

func (h *ControlHandlers) complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.transfers.CompleteTransfer(r.Context(), id); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *ControlHandlers) fail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var msg TransferFailMessage
	if err := httputil.DecodeJSONOptional(r, &msg); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if msg.ErrorMessage == "" {
		msg.ErrorMessage = "data plane reported failure"
	}
	if err := h.transfers.FailTransfer(r.Context(), id, msg.ErrorMessage); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *ControlHandlers) register(w http.ResponseWriter, r *http.Request) {
	var inst model.DataPlaneInstance
	if err := httputil.DecodeJSON(r, &inst); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if err := inst.Validate(); err != nil {
		httputil.WriteErr(w, r, errors.NewValidationError("dataplane", err.Error(), nil))
		return
	}
	if err := h.registrar.Register(r.Context(), inst); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	h.logger.ComponentInfo(logging.ComponentSignaling, "Data plane registered",
		zap.String("id", inst.ID), zap.String("url", inst.URL))
	httputil.WriteNoContent(w)
}
