package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/DeBrosOfficial/dataspace/pkg/controlplane"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

const (
	pathCatalog      = "/v2/catalog/request"
	pathDataset      = "/v2/catalog/dataset/request"
	pathNegotiations = "/v2/contractnegotiations"
	pathTransfers    = "/v2/transferprocesses"
	pathEDRs         = "/v2/edrs"
)

type stateBody struct {
	State string `json:"state"`
}

type reasonBody struct {
	Reason string `json:"reason,omitempty"`
}

// RequestCatalog asks the connector to fetch a counter-party's catalog.
func (c *Client) RequestCatalog(ctx context.Context, req controlplane.CatalogRequest) (*model.Catalog, error) {
	var out model.Catalog
	if err := c.do(ctx, "request catalog", http.MethodPost, pathCatalog, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestDataset fetches one dataset of a counter-party's catalog.
func (c *Client) RequestDataset(ctx context.Context, req controlplane.DatasetRequest) (*model.Dataset, error) {
	var out model.Dataset
	if err := c.do(ctx, "request dataset", http.MethodPost, pathDataset, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Negotiate starts a contract negotiation and returns its id.
func (c *Client) Negotiate(ctx context.Context, req controlplane.ContractRequest) (string, error) {
	var out IDResponse
	if err := c.do(ctx, "negotiate", http.MethodPost, pathNegotiations, req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetNegotiation fetches a contract negotiation.
func (c *Client) GetNegotiation(ctx context.Context, id string) (*model.ContractNegotiation, error) {
	var out model.ContractNegotiation
	if err := c.do(ctx, "get negotiation", http.MethodGet, pathNegotiations+"/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NegotiationState returns the negotiation's state.
func (c *Client) NegotiationState(ctx context.Context, id string) (model.NegotiationState, error) {
	var out stateBody
	if err := c.do(ctx, "negotiation state", http.MethodGet, pathNegotiations+"/"+escape(id)+"/state", nil, &out); err != nil {
		return 0, err
	}
	return model.ParseNegotiationState(out.State)
}

func (c *Client) TerminateNegotiation(ctx context.Context, id, reason string) error {
	return c.do(ctx, "terminate negotiation", http.MethodPost, pathNegotiations+"/"+escape(id)+"/terminate", reasonBody{Reason: reason}, nil)
}

func (c *Client) QueryNegotiations(ctx context.Context, q model.QuerySpec) ([]model.ContractNegotiation, error) {
	var out []model.ContractNegotiation
	err := c.do(ctx, "query negotiations", http.MethodPost, pathNegotiations+"/request", q, &out)
	return out, err
}

// WaitForNegotiationState polls until the negotiation reaches want. It fails
// with ErrFinalState when the negotiation ends in a final state from which
// want cannot be reached.
func (c *Client) WaitForNegotiationState(ctx context.Context, id string, want model.NegotiationState) (*model.ContractNegotiation, error) {
	var last *model.ContractNegotiation
	err := WaitFor(ctx, c.config.PollInterval, func(ctx context.Context) (bool, error) {
		n, err := c.GetNegotiation(ctx, id)
		if err != nil {
			return false, err
		}
		last = n
		if n.State == want {
			return true, nil
		}
		if n.State.IsFinal() && !n.State.CanTransition(want) {
			return false, fmt.Errorf("%w: negotiation %s is %s: %s", ErrFinalState, id, n.State, n.ErrorDetail)
		}
		return false, nil
	})
	return last, err
}

// WaitForAgreement waits for the negotiation to finalize and returns the
// agreement id.
func (c *Client) WaitForAgreement(ctx context.Context, negotiationID string) (string, error) {
	n, err := c.WaitForNegotiationState(ctx, negotiationID, model.NegotiationFinalized)
	if err != nil {
		return "", err
	}
	return n.ContractAgreementID, nil
}

// StartTransfer starts a transfer process and returns its id.
func (c *Client) StartTransfer(ctx context.Context, req controlplane.TransferRequest) (string, error) {
	var out IDResponse
	if err := c.do(ctx, "start transfer", http.MethodPost, pathTransfers, req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// GetTransfer fetches a transfer process.
func (c *Client) GetTransfer(ctx context.Context, id string) (*model.TransferProcess, error) {
	var out model.TransferProcess
	if err := c.do(ctx, "get transfer", http.MethodGet, pathTransfers+"/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferState returns the transfer process state.
func (c *Client) TransferState(ctx context.Context, id string) (model.TransferState, error) {
	var out stateBody
	if err := c.do(ctx, "transfer state", http.MethodGet, pathTransfers+"/"+escape(id)+"/state", nil, &out); err != nil {
		return 0, err
	}
	return model.ParseTransferState(out.State)
}

func (c *Client) QueryTransfers(ctx context.Context, q model.QuerySpec) ([]model.TransferProcess, error) {
	var out []model.TransferProcess
	err := c.do(ctx, "query transfers", http.MethodPost, pathTransfers+"/request", q, &out)
	return out, err
}

func (c *Client) TerminateTransfer(ctx context.Context, id, reason string) error {
	return c.do(ctx, "terminate transfer", http.MethodPost, pathTransfers+"/"+escape(id)+"/terminate", reasonBody{Reason: reason}, nil)
}

func (c *Client) SuspendTransfer(ctx context.Context, id, reason string) error {
	return c.do(ctx, "suspend transfer", http.MethodPost, pathTransfers+"/"+escape(id)+"/suspend", reasonBody{Reason: reason}, nil)
}

func (c *Client) ResumeTransfer(ctx context.Context, id string) error {
	return c.do(ctx, "resume transfer", http.MethodPost, pathTransfers+"/"+escape(id)+"/resume", nil, nil)
}

func (c *Client) DeprovisionTransfer(ctx context.Context, id string) error {
	return c.do(ctx, "deprovision transfer", http.MethodPost, pathTransfers+"/"+escape(id)+"/deprovision", nil, nil)
}

// WaitForTransferState polls until the transfer reaches want. It fails with
// ErrFinalState when the transfer ends in another final state.
func (c *Client) WaitForTransferState(ctx context.Context, id string, want model.TransferState) error {
	return WaitFor(ctx, c.config.PollInterval, func(ctx context.Context) (bool, error) {
		st, err := c.TransferState(ctx, id)
		if err != nil {
			return false, err
		}
		if st == want {
			return true, nil
		}
		if st.IsFinal() && !st.CanTransition(want) {
			return false, fmt.Errorf("%w: transfer %s is %s", ErrFinalState, id, st)
		}
		return false, nil
	})
}

// QueryEDRs lists cached endpoint data references.
func (c *Client) QueryEDRs(ctx context.Context, q model.QuerySpec) ([]model.EDREntry, error) {
	var out []model.EDREntry
	err := c.do(ctx, "query edrs", http.MethodPost, pathEDRs+"/request", q, &out)
	return out, err
}

// GetEDR returns the endpoint data reference of a started PULL transfer.
func (c *Client) GetEDR(ctx context.Context, transferID string) (model.DataAddress, error) {
	var out model.DataAddress
	if err := c.do(ctx, "get edr", http.MethodGet, pathEDRs+"/"+escape(transferID)+"/dataaddress", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitForEDR polls until the EDR of a PULL transfer is available.
func (c *Client) WaitForEDR(ctx context.Context, transferID string) (model.DataAddress, error) {
	var edr model.DataAddress
	err := WaitFor(ctx, c.config.PollInterval, func(ctx context.Context) (bool, error) {
		addr, err := c.GetEDR(ctx, transferID)
		switch {
		case err == nil:
			edr = addr
			return true, nil
		case StatusOf(err) == http.StatusNotFound:
			return false, nil
		default:
			return false, err
		}
	})
	return edr, err
}
