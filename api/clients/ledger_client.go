package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-utils/signature"

	"github.com/ruteri/software-update-ledger/api"
	"github.com/ruteri/software-update-ledger/interfaces"
)

// StatusError is returned for non-2xx responses. It unwraps to the ledger
// sentinel error named by the response code, so callers can use errors.Is.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return api.SentinelFor(e.Code)
}

// LedgerClient talks to the ledger HTTP API. Mutating calls are signed with
// the client's key; the server treats the signing address as the caller.
type LedgerClient struct {
	baseURL    string
	signer     *signature.Signer
	httpClient *http.Client
}

// NewLedgerClient creates a client for the API at baseURL (e.g. "http://localhost:8080").
// key may be nil for a read-only client.
func NewLedgerClient(baseURL string, key *ecdsa.PrivateKey, timeout ...time.Duration) *LedgerClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	c := &LedgerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
	if key != nil {
		signer := signature.NewSigner(key)
		c.signer = &signer
	}
	return c
}

// Address returns the caller principal of signed requests.
func (c *LedgerClient) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

func (c *LedgerClient) RegisterManufacturer(ctx context.Context, manufacturer common.Address, name string) error {
	return c.post(ctx, "/api/v1/manufacturers", &api.RegisterManufacturerRequest{Address: manufacturer, Name: name}, nil)
}

func (c *LedgerClient) DeactivateManufacturer(ctx context.Context, manufacturer common.Address) error {
	return c.post(ctx, "/api/v1/manufacturers/deactivate", &api.DeactivateManufacturerRequest{Address: manufacturer}, nil)
}

func (c *LedgerClient) Manufacturer(ctx context.Context, manufacturer common.Address) (*api.ManufacturerResponse, error) {
	var resp api.ManufacturerResponse
	if err := c.get(ctx, "/api/v1/manufacturers/"+manufacturer.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) RegisterUpdate(ctx context.Context, req *api.RegisterUpdateRequest) error {
	return c.post(ctx, "/api/v1/updates", req, nil)
}

func (c *LedgerClient) DeactivateUpdate(ctx context.Context, uid string) error {
	return c.post(ctx, "/api/v1/updates/deactivate", &api.UpdateUIDRequest{UID: uid}, nil)
}

func (c *LedgerClient) GetUpdateDetails(ctx context.Context, uid string) (*api.UpdateDetailsResponse, error) {
	var resp api.UpdateDetailsResponse
	if err := c.get(ctx, "/api/v1/updates", url.Values{"uid": {uid}}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) UpdateCount(ctx context.Context) (uint64, error) {
	var resp api.UpdateCountResponse
	if err := c.get(ctx, "/api/v1/updates/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *LedgerClient) UpdateIDByIndex(ctx context.Context, index uint64) (string, error) {
	var resp api.UpdateIDResponse
	if err := c.get(ctx, "/api/v1/updates", url.Values{"index": {strconv.FormatUint(index, 10)}}, &resp); err != nil {
		return "", err
	}
	return resp.UID, nil
}

func (c *LedgerClient) SendUpdateNotification(ctx context.Context, req *api.NotificationRequest) error {
	return c.post(ctx, "/api/v1/notifications", req, nil)
}

func (c *LedgerClient) GetNotification(ctx context.Context, uid string) (*api.NotificationResponse, error) {
	var resp api.NotificationResponse
	if err := c.get(ctx, "/api/v1/notifications", url.Values{"uid": {uid}}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) AcceptUpdate(ctx context.Context, uid string) error {
	return c.post(ctx, "/api/v1/acceptances", &api.UpdateUIDRequest{UID: uid}, nil)
}

func (c *LedgerClient) IsAccepted(ctx context.Context, uid string, buyer common.Address) (bool, error) {
	var resp api.AcceptanceResponse
	if err := c.get(ctx, "/api/v1/acceptances", url.Values{"uid": {uid}, "buyer": {buyer.Hex()}}, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// DeliverKeyAndPayment pays value for uid and returns the released encrypted key.
func (c *LedgerClient) DeliverKeyAndPayment(ctx context.Context, uid string, value *big.Int) (*api.DeliveryResponse, error) {
	var resp api.DeliveryResponse
	if err := c.post(ctx, "/api/v1/deliveries", &api.DeliveryRequest{UID: uid, Value: value}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) IsAuthorized(ctx context.Context, uid string, buyer common.Address) (bool, error) {
	var resp api.AuthorizationResponse
	if err := c.get(ctx, "/api/v1/deliveries", url.Values{"uid": {uid}, "buyer": {buyer.Hex()}}, &resp); err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

func (c *LedgerClient) BuyerUpdates(ctx context.Context, buyer common.Address) ([]string, error) {
	var resp api.BuyerUpdatesResponse
	if err := c.get(ctx, "/api/v1/buyers/"+buyer.Hex()+"/updates", nil, &resp); err != nil {
		return nil, err
	}
	return resp.UIDs, nil
}

func (c *LedgerClient) ConfirmUpdateInstallation(ctx context.Context, uid string, device common.Address) error {
	return c.post(ctx, "/api/v1/installations", &api.InstallationRequest{UID: uid, Device: device}, nil)
}

func (c *LedgerClient) Installations(ctx context.Context, uid string, buyer common.Address) ([]common.Address, error) {
	var resp api.InstallationsResponse
	if err := c.get(ctx, "/api/v1/installations", url.Values{"uid": {uid}, "buyer": {buyer.Hex()}}, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Events returns one page of the event log starting at sequence number from.
func (c *LedgerClient) Events(ctx context.Context, from uint64, limit int) (*api.EventsResponse, error) {
	query := url.Values{"from": {strconv.FormatUint(from, 10)}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp api.EventsResponse
	if err := c.get(ctx, "/api/v1/events", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadPayload stores an encrypted payload on the server's storage mirrors
// and returns its content ID, which is the hash to anchor in RegisterUpdate.
func (c *LedgerClient) UploadPayload(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	endpoint := c.baseURL + "/api/v1/payloads?type=" + url.QueryEscape(contentType.String())
	req, err := c.newSignedRequest(ctx, http.MethodPost, endpoint, data)
	if err != nil {
		return interfaces.ContentID{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp api.PayloadResponse
	if err := c.do(req, &resp); err != nil {
		return interfaces.ContentID{}, err
	}
	return interfaces.NewContentIDFromHex(resp.ContentID)
}

// DownloadPayload fetches a payload and checks it against its content ID.
func (c *LedgerClient) DownloadPayload(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/v1/payloads/%s?type=%s", c.baseURL, id.String(), url.QueryEscape(contentType.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if interfaces.ComputeID(data) != id {
		return nil, interfaces.ErrContentMismatch
	}
	return data, nil
}

func (c *LedgerClient) SetContractAddress(ctx context.Context, name string, addr common.Address) error {
	return c.post(ctx, "/api/v1/contracts", &api.ContractRequest{Name: name, Address: addr}, nil)
}

func (c *LedgerClient) ContractAddress(ctx context.Context, name string) (common.Address, error) {
	var resp api.ContractResponse
	if err := c.get(ctx, "/api/v1/contracts/"+url.PathEscape(name), nil, &resp); err != nil {
		return common.Address{}, err
	}
	return resp.Address, nil
}

func (c *LedgerClient) post(ctx context.Context, path string, body any, out any) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := c.newSignedRequest(ctx, http.MethodPost, c.baseURL+path, reqJSON)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *LedgerClient) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *LedgerClient) newSignedRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("client has no signing key: %w", api.ErrSignature)
	}
	sig, err := c.signer.Create(body)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.SignatureHeader, sig)
	return req, nil
}

func (c *LedgerClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &StatusError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &StatusError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
}
