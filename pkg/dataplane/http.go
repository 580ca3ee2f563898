package dataplane

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
	"github.com/DeBrosOfficial/dataspace/pkg/signaling"
	"github.com/DeBrosOfficial/dataspace/pkg/vault"
)

// KeyName is the optional part name of an HttpData address.
const KeyName = "name"

// HTTPDataFactory is the source and sink for HttpData addresses. The source
// fetches baseUrl once; the sink posts every part to baseUrl.
type HTTPDataFactory struct {
	client *http.Client
	vault  vault.Vault
}

// NewHTTPDataFactory creates the factory. v resolves secrets named by the
// keyName property and may be nil.
func NewHTTPDataFactory(timeout time.Duration, v vault.Vault) *HTTPDataFactory {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDataFactory{client: &http.Client{Timeout: timeout}, vault: v}
}

// Type implements DataSourceFactory and DataSinkFactory.
func (f *HTTPDataFactory) Type() string { return model.TypeHTTPData }

func validateBaseURL(addr model.DataAddress) error {
	raw := addr.GetString(model.KeyBaseURL)
	if raw == "" {
		return fmt.Errorf("baseUrl is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("baseUrl %q is not an absolute URL", raw)
	}
	return nil
}

// ValidateSource implements DataSourceFactory.
func (f *HTTPDataFactory) ValidateSource(addr model.DataAddress) error { return validateBaseURL(addr) }

// ValidateSink implements DataSinkFactory.
func (f *HTTPDataFactory) ValidateSink(addr model.DataAddress) error { return validateBaseURL(addr) }

// CreateSource implements DataSourceFactory.
func (f *HTTPDataFactory) CreateSource(_ context.Context, msg signaling.DataFlowStartMessage) (DataSource, error) {
	return &httpSource{factory: f, addr: msg.SourceDataAddress}, nil
}

// CreateSink implements DataSinkFactory.
func (f *HTTPDataFactory) CreateSink(_ context.Context, msg signaling.DataFlowStartMessage) (DataSink, error) {
	return &httpSink{factory: f, addr: msg.DestinationDataAddress}, nil
}

// targetURL appends the path and proxy path properties and the proxy query
// to baseUrl.
func targetURL(addr model.DataAddress) (string, error) {
	u, err := url.Parse(addr.GetString(model.KeyBaseURL))
	if err != nil {
		return "", err
	}
	for _, p := range []string{addr.GetString(model.KeyPath), addr.GetString(model.KeyProxyPath)} {
		if p = strings.Trim(p, "/"); p != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/" + p
		}
	}
	if q := strings.TrimPrefix(addr.GetString(model.KeyProxyQuery), "?"); q != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + q
		} else {
			u.RawQuery = q
		}
	}
	return u.String(), nil
}

// newRequest builds a request for addr. Without an explicit method it uses
// fallback.
func (f *HTTPDataFactory) newRequest(ctx context.Context, addr model.DataAddress, fallback string, body io.Reader) (*http.Request, error) {
	target, err := targetURL(addr)
	if err != nil {
		return nil, err
	}
	method := addr.GetString(model.KeyProxyMethod)
	if method == "" {
		method = addr.GetString(model.KeyMethod)
	}
	if method == "" {
		method = fallback
	}
	if body == nil {
		if b := addr.GetString(model.KeyProxyBody); b != "" {
			body = strings.NewReader(b)
		}
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		ct := addr.GetString(model.KeyContentType)
		if ct == "" {
			ct = "application/octet-stream"
		}
		req.Header.Set("Content-Type", ct)
	}
	if err := f.authorize(ctx, req, addr); err != nil {
		return nil, err
	}
	return req, nil
}

// authorize sets the authKey header to authCode, or to the vault secret
// named by keyName.
func (f *HTTPDataFactory) authorize(ctx context.Context, req *http.Request, addr model.DataAddress) error {
	key := addr.GetString(model.KeyAuthKey)
	code := addr.GetString(model.KeyAuthCode)
	if name := addr.KeyName(); code == "" && name != "" {
		if f.vault == nil {
			return errors.NewValidationError("keyName", "no vault to resolve "+name, nil)
		}
		secret, err := f.vault.ResolveSecret(ctx, name)
		if err != nil {
			return err
		}
		code = secret
	}
	if code == "" {
		return nil
	}
	if key == "" {
		key = "Authorization"
	}
	req.Header.Set(key, code)
	return nil
}

func partName(addr model.DataAddress, fallback string) string {
	if n := addr.GetString(KeyName); n != "" {
		return n
	}
	if p := strings.Trim(addr.GetString(model.KeyPath), "/"); p != "" {
		return path.Base(p)
	}
	return fallback
}

type httpSource struct {
	factory *HTTPDataFactory
	addr    model.DataAddress
}

func (s *httpSource) Each(ctx context.Context, fn func(Part) error) error {
	resp, err := s.factory.Open(ctx, s.addr, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewServiceError("http source", fmt.Sprintf("GET %s returned %d", s.addr.GetString(model.KeyBaseURL), resp.StatusCode), resp.StatusCode, nil)
	}
	return fn(&readerPart{name: partName(s.addr, "response"), body: resp.Body})
}

func (s *httpSource) Close() error { return nil }

// Open performs the request described by a source address and returns the
// raw response. The public API proxies through it.
func (f *HTTPDataFactory) Open(ctx context.Context, addr model.DataAddress, body io.Reader) (*http.Response, error) {
	req, err := f.newRequest(ctx, addr, http.MethodGet, body)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewServiceError("http source", req.Method+" "+req.URL.String()+" failed", 0, err)
	}
	return resp, nil
}

type httpSink struct {
	factory *HTTPDataFactory
	addr    model.DataAddress
}

func (s *httpSink) Write(ctx context.Context, p Part) error {
	in, err := p.Open()
	if err != nil {
		return err
	}
	defer in.Close()
	req, err := s.factory.newRequest(ctx, s.addr, http.MethodPost, in)
	if err != nil {
		return err
	}
	resp, err := s.factory.client.Do(req)
	if err != nil {
		return errors.NewServiceError("http sink", req.Method+" "+req.URL.String()+" failed", 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewServiceError("http sink", fmt.Sprintf("%s %s returned %d", req.Method, req.URL, resp.StatusCode), resp.StatusCode, nil)
	}
	return nil
}

func (s *httpSink) Close() error { return nil }
