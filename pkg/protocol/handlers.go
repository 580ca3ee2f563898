package protocol

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/identity"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// CatalogService answers catalog requests.
type CatalogService interface {
	BuildCatalog(ctx context.Context, agent model.ParticipantAgent, q model.QuerySpec) (*model.Catalog, error)
	GetDataset(ctx context.Context, agent model.ParticipantAgent, id string) (*model.Dataset, error)
}

// NegotiationService handles incoming negotiation messages. pid is always
// the receiving connector's own process id.
type NegotiationService interface {
	HandleRequest(ctx context.Context, agent model.ParticipantAgent, msg ContractRequestMessage) (*ContractNegotiationAck, error)
	HandleAgreement(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractAgreementMessage) error
	HandleVerification(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractAgreementVerificationMessage) error
	HandleEvent(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractNegotiationEventMessage) error
	HandleTermination(ctx context.Context, agent model.ParticipantAgent, pid string, msg ContractNegotiationTerminationMessage) error
	GetNegotiation(ctx context.Context, agent model.ParticipantAgent, pid string) (*ContractNegotiationAck, error)
}

// TransferService handles incoming transfer messages.
type TransferService interface {
	HandleRequest(ctx context.Context, agent model.ParticipantAgent, msg TransferRequestMessage) (*TransferProcessAck, error)
	HandleStart(ctx context.Context, agent model.ParticipantAgent, pid string, msg TransferStartMessage) error
	HandleCompletion(ctx context.Context, agent model.ParticipantAgent, pid string, msg TransferCompletionMessage) error
	HandleTermination(ctx context.Context, agent model.ParticipantAgent, pid string, msg TransferTerminationMessage) error
	HandleSuspension(ctx context.Context, agent model.ParticipantAgent, pid string, msg TransferSuspensionMessage) error
	GetTransfer(ctx context.Context, agent model.ParticipantAgent, pid string) (*TransferProcessAck, error)
}

type ctxKey struct{}

// AgentFromContext returns the verified counter-party of a request.
func AgentFromContext(ctx context.Context) (model.ParticipantAgent, bool) {
	a, ok := ctx.Value(ctxKey{}).(model.ParticipantAgent)
	return a, ok
}

// Handlers serves the protocol API.
type Handlers struct {
	catalog     CatalogService
	negotiation NegotiationService
	transfer    TransferService
	identity    identity.Service
	logger      *logging.ColoredLogger
}

// NewHandlers wires the protocol API to the control plane services.
func NewHandlers(cat CatalogService, neg NegotiationService, tp TransferService, ids identity.Service, logger *logging.ColoredLogger) *Handlers {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handlers{catalog: cat, negotiation: neg, transfer: tp, identity: ids, logger: logger}
}

// Routes mounts the protocol endpoints on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post(PathCatalogRequest, h.requestCatalog)
		r.Get(PathDatasets+"{id}", h.getDataset)

		r.Post(PathNegotiationRequest, h.negotiationRequest)
		r.Get(PathNegotiations+"{pid}", h.getNegotiation)
		r.Post(PathNegotiations+"{pid}"+SuffixAgreement, h.negotiationAgreement)
		r.Post(PathNegotiations+"{pid}"+SuffixVerification, h.negotiationVerification)
		r.Post(PathNegotiations+"{pid}"+SuffixEvents, h.negotiationEvent)
		r.Post(PathNegotiations+"{pid}"+SuffixNegotiationTerm, h.negotiationTermination)

		r.Post(PathTransferRequest, h.transferRequest)
		r.Get(PathTransfers+"{pid}", h.getTransfer)
		r.Post(PathTransfers+"{pid}"+SuffixTransferStart, h.transferStart)
		r.Post(PathTransfers+"{pid}"+SuffixTransferComplete, h.transferCompletion)
		r.Post(PathTransfers+"{pid}"+SuffixTransferTerminate, h.transferTermination)
		r.Post(PathTransfers+"{pid}"+SuffixTransferSuspend, h.transferSuspension)
	})
}

// authenticate verifies the caller's identity token on every request.
func (h *Handlers) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent, err := h.identity.VerifyToken(httputil.ExtractAuthorization(r))
		if err != nil {
			h.writeError(w, r, TypeCatalogError, "", err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, typ, pid string, err error) {
	status := errors.StatusCode(err)
	if status >= 500 {
		h.logger.ComponentError(logging.ComponentProtocol, "Protocol request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.ComponentDebug(logging.ComponentProtocol, "Protocol request rejected",
			zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	body := Error{Type: typ, Code: errors.GetErrorCode(err), Reasons: []string{errors.GetErrorMessage(err)}}
	switch typ {
	case TypeNegotiationError, TypeTransferError:
		body.ProviderPid = pid
	}
	httputil.WriteJSON(w, status, body)
}

func agentOf(r *http.Request) model.ParticipantAgent {
	a, _ := AgentFromContext(r.Context())
	return a
}

func (h *Handlers) requestCatalog(w http.ResponseWriter, r *http.Request) {
	var msg CatalogRequestMessage
	if err := httputil.DecodeJSONOptional(r, &msg); err != nil {
		h.writeError(w, r, TypeCatalogError, "", err)
		return
	}
	q := model.QuerySpec{}
	if msg.Filter != nil {
		q = *msg.Filter
	}
	cat, err := h.catalog.BuildCatalog(r.Context(), agentOf(r), q)
	if err != nil {
		h.writeError(w, r, TypeCatalogError, "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cat)
}

func (h *Handlers) getDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := h.catalog.GetDataset(r.Context(), agentOf(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, TypeCatalogError, "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ds)
}

func (h *Handlers) negotiationRequest(w http.ResponseWriter, r *http.Request) {
	var msg ContractRequestMessage
	if err := httputil.DecodeJSON(r, &msg); err != nil {
		h.writeError(w, r, TypeNegotiationError, "", err)
		return
	}
	if msg.ConsumerPid == "" {
		h.writeError(w, r, TypeNegotiationError, "", errors.NewValidationError("dspace:consumerPid", "required", nil))
		return
	}
	ack, err := h.negotiation.HandleRequest(r.Context(), agentOf(r), msg)
	if err != nil {
		h.writeError(w, r, TypeNegotiationError, "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ack)
}

func (h *Handlers) getNegotiation(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	ack, err := h.negotiation.GetNegotiation(r.Context(), agentOf(r), pid)
	if err != nil {
		h.writeError(w, r, TypeNegotiationError, pid, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ack)
}

// handleMessage decodes a message for an existing process and hands it to fn.
func handleMessage[M any](h *Handlers, typ string, fn func(ctx context.Context, agent model.ParticipantAgent, pid string, msg M) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid := chi.URLParam(r, "pid")
		var msg M
		if err := httputil.DecodeJSON(r, &msg); err != nil {
			h.writeError(w, r, typ, pid, err)
			return
		}
		if err := fn(r.Context(), agentOf(r), pid, msg); err != nil {
			h.writeError(w, r, typ, pid, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handlers) negotiationAgreement(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeNegotiationError, h.negotiation.HandleAgreement)(w, r)
}

func (h *Handlers) negotiationVerification(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeNegotiationError, h.negotiation.HandleVerification)(w, r)
}

func (h *Handlers) negotiationEvent(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeNegotiationError, h.negotiation.HandleEvent)(w, r)
}

func (h *Handlers) negotiationTermination(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeNegotiationError, h.negotiation.HandleTermination)(w, r)
}

func (h *Handlers) transferRequest(w http.ResponseWriter, r *http.Request) {
	var msg TransferRequestMessage
	if err := httputil.DecodeJSON(r, &msg); err != nil {
		h.writeError(w, r, TypeTransferError, "", err)
		return
	}
	if msg.ConsumerPid == "" || msg.AgreementID == "" {
		h.writeError(w, r, TypeTransferError, "", errors.NewValidationError("dspace:agreementId", "consumerPid and agreementId are required", nil))
		return
	}
	ack, err := h.transfer.HandleRequest(r.Context(), agentOf(r), msg)
	if err != nil {
		h.writeError(w, r, TypeTransferError, "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ack)
}

func (h *Handlers) getTransfer(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	ack, err := h.transfer.GetTransfer(r.Context(), agentOf(r), pid)
	if err != nil {
		h.writeError(w, r, TypeTransferError, pid, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ack)
}

func (h *Handlers) transferStart(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeTransferError, h.transfer.HandleStart)(w, r)
}

func (h *Handlers) transferCompletion(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeTransferError, h.transfer.HandleCompletion)(w, r)
}

func (h *Handlers) transferTermination(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeTransferError, h.transfer.HandleTermination)(w, r)
}

func (h *Handlers) transferSuspension(w http.ResponseWriter, r *http.Request) {
	handleMessage(h, TypeTransferError, h.transfer.HandleSuspension)(w, r)
}
