package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// SignatureHeader carries "<address>:<signature>" over the raw request body.
// The recovered address is the caller principal of mutating requests.
const SignatureHeader = "X-Flashbots-Signature"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type RegisterManufacturerRequest struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
}

type DeactivateManufacturerRequest struct {
	Address common.Address `json:"address"`
}

type ManufacturerResponse struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Active  bool           `json:"active"`
}

// RegisterUpdateRequest registers an update. EncryptedKey and Signature are
// opaque to the ledger.
type RegisterUpdateRequest struct {
	UID          string        `json:"uid"`
	Hash         common.Hash   `json:"hash"`
	EncryptedKey hexutil.Bytes `json:"encrypted_key"`
	Signature    hexutil.Bytes `json:"signature"`
	Price        *big.Int      `json:"price"`
}

func (r *RegisterUpdateRequest) ToRegistration() *interfaces.UpdateRegistration {
	return &interfaces.UpdateRegistration{
		UID:          r.UID,
		Hash:         interfaces.UpdateHash(r.Hash),
		EncryptedKey: r.EncryptedKey,
		Signature:    r.Signature,
		Price:        r.Price,
	}
}

// UpdateUIDRequest addresses a single update by identifier.
type UpdateUIDRequest struct {
	UID string `json:"uid"`
}

type UpdateDetailsResponse struct {
	UID          string         `json:"uid"`
	Hash         common.Hash    `json:"hash"`
	EncryptedKey hexutil.Bytes  `json:"encrypted_key"`
	Signature    hexutil.Bytes  `json:"signature"`
	Price        *big.Int       `json:"price"`
	CreatedAt    uint64         `json:"created_at"`
	Manufacturer common.Address `json:"manufacturer"`
	Active       bool           `json:"active"`
}

func NewUpdateDetailsResponse(uid string, d *interfaces.UpdateDetails) *UpdateDetailsResponse {
	return &UpdateDetailsResponse{
		UID:          uid,
		Hash:         common.Hash(d.Hash),
		EncryptedKey: d.EncryptedKey,
		Signature:    d.Signature,
		Price:        d.Price,
		CreatedAt:    d.CreatedAt,
		Manufacturer: d.Manufacturer,
		Active:       d.Active,
	}
}

type UpdateCountResponse struct {
	Count uint64 `json:"count"`
}

type UpdateIDResponse struct {
	Index uint64 `json:"index"`
	UID   string `json:"uid"`
}

type NotificationRequest struct {
	UID          string `json:"uid"`
	Description  string `json:"description"`
	Security     bool   `json:"security"`
	BugFix       bool   `json:"bug_fix"`
	Feature      bool   `json:"feature"`
	SecurityDesc string `json:"security_desc,omitempty"`
	BugFixDesc   string `json:"bug_fix_desc,omitempty"`
	FeatureDesc  string `json:"feature_desc,omitempty"`
}

func (r *NotificationRequest) ToDomain() *interfaces.NotificationRequest {
	return &interfaces.NotificationRequest{
		UID:          r.UID,
		Description:  r.Description,
		Security:     r.Security,
		BugFix:       r.BugFix,
		Feature:      r.Feature,
		SecurityDesc: r.SecurityDesc,
		BugFixDesc:   r.BugFixDesc,
		FeatureDesc:  r.FeatureDesc,
	}
}

type NotificationResponse struct {
	NotificationRequest
	Manufacturer common.Address `json:"manufacturer"`
	IssuedAt     uint64         `json:"issued_at"`
}

func NewNotificationResponse(n *interfaces.Notification) *NotificationResponse {
	return &NotificationResponse{
		NotificationRequest: NotificationRequest{
			UID:          n.UID,
			Description:  n.Description,
			Security:     n.Security,
			BugFix:       n.BugFix,
			Feature:      n.Feature,
			SecurityDesc: n.SecurityDesc,
			BugFixDesc:   n.BugFixDesc,
			FeatureDesc:  n.FeatureDesc,
		},
		Manufacturer: n.Manufacturer,
		IssuedAt:     n.IssuedAt,
	}
}

type AcceptanceResponse struct {
	UID      string         `json:"uid"`
	Buyer    common.Address `json:"buyer"`
	Accepted bool           `json:"accepted"`
}

// DeliveryRequest pays for an update. Value is the native amount attached to
// the call; any excess over the price stays with the caller.
type DeliveryRequest struct {
	UID   string   `json:"uid"`
	Value *big.Int `json:"value"`
}

// DeliveryResponse releases the encrypted key to the paying buyer.
type DeliveryResponse struct {
	UID          string         `json:"uid"`
	Buyer        common.Address `json:"buyer"`
	Amount       *big.Int       `json:"amount"`
	DeliveredAt  uint64         `json:"delivered_at"`
	EncryptedKey hexutil.Bytes  `json:"encrypted_key"`
}

type AuthorizationResponse struct {
	UID        string         `json:"uid"`
	Buyer      common.Address `json:"buyer"`
	Authorized bool           `json:"authorized"`
}

type BuyerUpdatesResponse struct {
	Buyer common.Address `json:"buyer"`
	UIDs  []string       `json:"uids"`
}

type InstallationRequest struct {
	UID    string         `json:"uid"`
	Device common.Address `json:"device"`
}

type InstallationsResponse struct {
	UID     string           `json:"uid"`
	Buyer   common.Address   `json:"buyer"`
	Devices []common.Address `json:"devices"`
}

type EventResponse struct {
	Seq       uint64         `json:"seq"`
	Kind      string         `json:"kind"`
	UID       string         `json:"uid,omitempty"`
	Principal common.Address `json:"principal"`
	Amount    *big.Int       `json:"amount,omitempty"`
	Time      uint64         `json:"time"`
}

// EventsResponse is one page of the event log. Next is the sequence number to
// pass as "from" for the following page.
type EventsResponse struct {
	Events []EventResponse `json:"events"`
	Next   uint64          `json:"next"`
}

func NewEventsResponse(from uint64, events []interfaces.Event) *EventsResponse {
	resp := &EventsResponse{Events: make([]EventResponse, 0, len(events)), Next: from}
	for _, e := range events {
		resp.Events = append(resp.Events, EventResponse{
			Seq:       e.Seq,
			Kind:      string(e.Kind),
			UID:       e.UID,
			Principal: e.Principal,
			Amount:    e.Amount,
			Time:      e.Time,
		})
		resp.Next = e.Seq + 1
	}
	return resp
}

type PayloadResponse struct {
	ContentID string `json:"content_id"`
	Type      string `json:"type"`
}

type ContractRequest struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

type ContractResponse struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}
