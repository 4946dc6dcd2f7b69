package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
)

const (
	defaultRequestTimeout = 8 * time.Second
	maxResponseBytes      = 1 << 20
	inventoryPath         = "/api/inventory"
)

// Fetcher loads a fresh snapshot for one product.
type Fetcher interface {
	Fetch(ctx context.Context, productID string) (*Snapshot, error)
}

// HTTPFetcher reads GET {base}/api/inventory?productId=<id>.
type HTTPFetcher struct {
	baseURL string
	http    *http.Client
}

// NewHTTPFetcher builds a fetcher whose requests time out after timeout (8s when zero).
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return NewHTTPFetcherWithClient(baseURL, &http.Client{Timeout: timeout})
}

func NewHTTPFetcherWithClient(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    client,
	}
}

type envelope struct {
	Success bool          `json:"success"`
	Data    *Snapshot     `json:"data"`
	Error   *envelopeError `json:"error"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Fetch returns the upstream snapshot. Upstream failures carry the envelope's
// code, message and HTTP status; failures with no code use NETWORK_ERROR.
func (f *HTTPFetcher) Fetch(ctx context.Context, productID string) (*Snapshot, error) {
	endpoint := f.baseURL + inventoryPath + "?" + url.Values{"productId": {productID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "build inventory request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "inventory request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "read inventory response").WithStatus(resp.StatusCode)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= http.StatusBadRequest || (decodeErr == nil && !env.Success) {
		return nil, upstreamError(resp.StatusCode, env.Error, body)
	}
	if decodeErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, decodeErr, "decode inventory response").WithStatus(resp.StatusCode)
	}
	if env.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNetwork, "inventory response carried no data").WithStatus(resp.StatusCode)
	}
	return env.Data, nil
}

func upstreamError(status int, e *envelopeError, body []byte) *pkgerrors.Error {
	code := pkgerrors.CodeNetwork
	message := ""
	if e != nil {
		if c := strings.TrimSpace(e.Code); c != "" {
			code = pkgerrors.Code(c)
		}
		message = strings.TrimSpace(e.Message)
	}
	if message == "" {
		message = fmt.Sprintf("inventory request failed: %s", drainError(status, body))
	}
	return pkgerrors.New(code, message).WithStatus(status)
}

func drainError(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" || len(msg) > 200 {
		return http.StatusText(status)
	}
	return msg
}
