package dataplane

import (
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/httputil"
	"github.com/DeBrosOfficial/dataspace/pkg/logging"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

const maxProxyBody = 10 << 20

// PublicAPI lets consumers pull data of STARTED PULL flows. The remaining
// request path and query are forwarded to the flow's HttpData source.
type PublicAPI struct {
	manager *Manager
	http    *HTTPDataFactory
	logger  *logging.ColoredLogger
}

// NewPublicAPI creates the public API.
func NewPublicAPI(manager *Manager, httpData *HTTPDataFactory, logger *logging.ColoredLogger) *PublicAPI {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PublicAPI{manager: manager, http: httpData, logger: logger}
}

// Routes registers the proxy under every path.
func (p *PublicAPI) Routes(r chi.Router) {
	r.HandleFunc("/", p.serve)
	r.HandleFunc("/*", p.serve)
}

func (p *PublicAPI) serve(w http.ResponseWriter, r *http.Request) {
	token := httputil.ExtractAuthorization(r)
	if token == "" {
		httputil.WriteErr(w, r, errors.NewUnauthorizedError("missing access token").WithRealm("dataplane"))
		return
	}
	claims, err := p.manager.Tokens().Verify(token)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	flow, err := p.manager.Flow(r.Context(), claims.FlowID)
	if err != nil || flow.State != model.FlowStarted || flow.FlowType != model.FlowPull {
		httputil.WriteErr(w, r, errors.NewForbiddenError("data", "read"))
		return
	}
	if flow.Source.Type() != model.TypeHTTPData {
		httputil.WriteErr(w, r, errors.WithCode(errors.CodeUnimplemented, "public API only proxies HttpData sources", nil))
		return
	}

	addr := flow.Source.Clone().
		Set(model.KeyProxyPath, chi.URLParam(r, "*")).
		Set(model.KeyProxyQuery, r.URL.RawQuery).
		Set(model.KeyProxyMethod, r.Method)
	var body io.Reader
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = http.MaxBytesReader(w, r.Body, maxProxyBody)
		if ct := r.Header.Get("Content-Type"); ct != "" {
			addr.Set(model.KeyContentType, ct)
		}
	}

	resp, err := p.http.Open(r.Context(), addr, body)
	if err != nil {
		p.logger.ComponentWarn(logging.ComponentDataPlane, "Upstream request failed",
			zap.String("flow_id", flow.ID), zap.Error(err))
		httputil.WriteError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	n, _ := io.Copy(w, resp.Body)
	p.logger.ComponentDebug(logging.ComponentDataPlane, "Data served",
		zap.String("flow_id", flow.ID),
		zap.String("process_id", flow.ProcessID),
		zap.Int("status", resp.StatusCode),
		zap.Int64("bytes", n),
	)
}

// LimitListener caps concurrent public connections. max <= 0 means no cap.
func LimitListener(l net.Listener, max int) net.Listener {
	if max <= 0 {
		return l
	}
	return netutil.LimitListener(l, max)
}
