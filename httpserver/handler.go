package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-utils/signature"
	"github.com/go-chi/chi/v5"

	"github.com/ruteri/software-update-ledger/addressregistry"
	"github.com/ruteri/software-update-ledger/api"
	"github.com/ruteri/software-update-ledger/interfaces"
	"github.com/ruteri/software-update-ledger/ledger"
)

const (
	// maxBodySize is the maximum allowed size of JSON request bodies (1MB).
	maxBodySize = 1024 * 1024

	// defaultMaxPayloadSize bounds payload uploads when not configured (64MB).
	defaultMaxPayloadSize = 64 * 1024 * 1024
)

type callerCtxKey struct{}

// callerFrom returns the principal authenticated by Authenticate.
func callerFrom(ctx context.Context) (interfaces.Principal, bool) {
	caller, ok := ctx.Value(callerCtxKey{}).(interfaces.Principal)
	return caller, ok
}

// Handler exposes the ledger, the address registry and payload hosting over HTTP.
type Handler struct {
	ledger         *ledger.Ledger
	registry       *addressregistry.Registry
	payloads       interfaces.StorageBackend
	maxPayloadSize int64
	log            *slog.Logger
}

// NewHandler creates a new HTTP request handler. registry and payloads may be
// nil, in which case their endpoints answer 404 and 503 respectively.
func NewHandler(l *ledger.Ledger, registry *addressregistry.Registry, payloads interfaces.StorageBackend, maxPayloadSize int64, log *slog.Logger) *Handler {
	if maxPayloadSize <= 0 {
		maxPayloadSize = defaultMaxPayloadSize
	}
	return &Handler{
		ledger:         l,
		registry:       registry,
		payloads:       payloads,
		maxPayloadSize: maxPayloadSize,
		log:            log,
	}
}

// Authenticate verifies the signature header over the raw body and stores
// the recovered address as the caller principal. The body is restored for
// the next handler.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := int64(maxBodySize)
		if r.URL.Path == "/api/v1/payloads" {
			limit = h.maxPayloadSize
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: could not read request body: %w", interfaces.ErrInvalidArgument, err))
			return
		}

		header := r.Header.Get(api.SignatureHeader)
		if header == "" {
			h.writeError(w, fmt.Errorf("%w: missing %s header", api.ErrSignature, api.SignatureHeader))
			return
		}
		caller, err := signature.Verify(header, body)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: %w", api.ErrSignature, err))
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerCtxKey{}, caller)))
	})
}

// HandleRegisterManufacturer processes registerManufacturer. Owner only.
//
// URL format: POST /api/v1/manufacturers
func (h *Handler) HandleRegisterManufacturer(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterManufacturerRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.ledger.RegisterManufacturer(r.Context(), caller, req.Address, req.Name); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ManufacturerResponse{Address: req.Address, Name: req.Name, Active: true})
}

// HandleDeactivateManufacturer processes deactivateManufacturer. Owner only.
//
// URL format: POST /api/v1/manufacturers/deactivate
func (h *Handler) HandleDeactivateManufacturer(w http.ResponseWriter, r *http.Request) {
	var req api.DeactivateManufacturerRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.ledger.DeactivateManufacturer(r.Context(), caller, req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetManufacturer returns a manufacturer record.
//
// URL format: GET /api/v1/manufacturers/{address}
func (h *Handler) HandleGetManufacturer(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	m, err := h.ledger.Manufacturer(addr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ManufacturerResponse{Address: m.Address, Name: m.Name, Active: m.Active})
}

// HandleRegisterUpdate processes registerUpdate. Active manufacturers only.
//
// URL format: POST /api/v1/updates
func (h *Handler) HandleRegisterUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.ledger.RegisterUpdate(r.Context(), caller, req.ToRegistration()); err != nil {
		h.writeError(w, err)
		return
	}

	details, err := h.ledger.GetUpdateDetails(req.UID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, api.NewUpdateDetailsResponse(req.UID, details))
}

// HandleDeactivateUpdate processes deactivateUpdate. Publishing manufacturer only.
//
// URL format: POST /api/v1/updates/deactivate
func (h *Handler) HandleDeactivateUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateUIDRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.ledger.DeactivateUpdate(r.Context(), caller, req.UID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetUpdate returns update details by ?uid= or the UID registered at ?index=.
//
// URL format: GET /api/v1/updates
func (h *Handler) HandleGetUpdate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if raw := query.Get("index"); raw != "" {
		index, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: invalid index %q", interfaces.ErrInvalidArgument, raw))
			return
		}
		uid, err := h.ledger.UpdateIDByIndex(index)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, api.UpdateIDResponse{Index: index, UID: uid})
		return
	}

	uid := query.Get("uid")
	if uid == "" {
		h.writeError(w, fmt.Errorf("%w: uid or index is required", interfaces.ErrInvalidArgument))
		return
	}
	details, err := h.ledger.GetUpdateDetails(uid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.NewUpdateDetailsResponse(uid, details))
}

// HandleUpdateCount returns the number of registered updates.
//
// URL format: GET /api/v1/updates/count
func (h *Handler) HandleUpdateCount(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.UpdateCountResponse{Count: h.ledger.UpdateCount()})
}

// HandleSendNotification processes sendUpdateNotification.
//
// URL format: POST /api/v1/notifications
func (h *Handler) HandleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req api.NotificationRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.ledger.SendUpdateNotification(r.Context(), caller, req.ToDomain()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetNotification returns the current notification of ?uid=.
//
// URL format: GET /api/v1/notifications
func (h *Handler) HandleGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.GetNotification(r.URL.Query().Get("uid"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.NewNotificationResponse(n))
}

// HandleAcceptUpdate processes acceptUpdate for the calling buyer.
//
// URL format: POST /api/v1/acceptances
func (h *Handler) HandleAcceptUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateUIDRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.ledger.AcceptUpdate(r.Context(), caller, req.UID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.AcceptanceResponse{UID: req.UID, Buyer: caller, Accepted: true})
}

// HandleGetAcceptance reports whether ?buyer= accepted ?uid=.
//
// URL format: GET /api/v1/acceptances
func (h *Handler) HandleGetAcceptance(w http.ResponseWriter, r *http.Request) {
	uid, buyer, err := pairQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.AcceptanceResponse{UID: uid, Buyer: buyer, Accepted: h.ledger.IsAccepted(uid, buyer)})
}

// HandleDeliverKey processes deliverKeyAndPayment and releases the encrypted
// key to the paying buyer.
//
// URL format: POST /api/v1/deliveries
func (h *Handler) HandleDeliverKey(w http.ResponseWriter, r *http.Request) {
	var req api.DeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	delivery, err := h.ledger.DeliverKeyAndPayment(r.Context(), caller, req.UID, req.Value)
	if err != nil {
		h.writeError(w, err)
		return
	}

	details, err := h.ledger.GetUpdateDetails(req.UID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.DeliveryResponse{
		UID:          delivery.UID,
		Buyer:        delivery.Buyer,
		Amount:       delivery.Amount,
		DeliveredAt:  delivery.DeliveredAt,
		EncryptedKey: details.EncryptedKey,
	})
}

// HandleGetAuthorization reports whether ?buyer= was delivered the key of ?uid=.
//
// URL format: GET /api/v1/deliveries
func (h *Handler) HandleGetAuthorization(w http.ResponseWriter, r *http.Request) {
	uid, buyer, err := pairQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.AuthorizationResponse{UID: uid, Buyer: buyer, Authorized: h.ledger.IsAuthorized(uid, buyer)})
}

// HandleBuyerUpdates lists the updates whose keys were delivered to a buyer.
//
// URL format: GET /api/v1/buyers/{address}/updates
func (h *Handler) HandleBuyerUpdates(w http.ResponseWriter, r *http.Request) {
	buyer, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	uids := h.ledger.BuyerUpdates(buyer)
	if uids == nil {
		uids = []string{}
	}
	h.writeJSON(w, http.StatusOK, api.BuyerUpdatesResponse{Buyer: buyer, UIDs: uids})
}

// HandleConfirmInstallation processes confirmUpdateInstallation for the calling buyer.
//
// URL format: POST /api/v1/installations
func (h *Handler) HandleConfirmInstallation(w http.ResponseWriter, r *http.Request) {
	var req api.InstallationRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.ledger.ConfirmUpdateInstallation(r.Context(), caller, req.UID, req.Device); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetInstallations lists devices on which ?buyer= confirmed ?uid=.
//
// URL format: GET /api/v1/installations
func (h *Handler) HandleGetInstallations(w http.ResponseWriter, r *http.Request) {
	uid, buyer, err := pairQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	devices := h.ledger.Installations(uid, buyer)
	if devices == nil {
		devices = []interfaces.Principal{}
	}
	h.writeJSON(w, http.StatusOK, api.InstallationsResponse{UID: uid, Buyer: buyer, Devices: devices})
}

// HandleEvents returns a page of the event log.
//
// URL format: GET /api/v1/events?from=&limit=
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var from uint64
	if raw := query.Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: invalid from %q", interfaces.ErrInvalidArgument, raw))
			return
		}
		from = parsed
	}
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			h.writeError(w, fmt.Errorf("%w: limit must be between 1 and 1000", interfaces.ErrInvalidArgument))
			return
		}
		limit = parsed
	}

	h.writeJSON(w, http.StatusOK, api.NewEventsResponse(from, h.ledger.Events(from, limit)))
}

// HandleUploadPayload stores a raw payload on the configured mirrors. Any
// authenticated caller may upload; the ledger only trusts anchored hashes.
//
// URL format: POST /api/v1/payloads?type=payload|manifest
func (h *Handler) HandleUploadPayload(w http.ResponseWriter, r *http.Request) {
	if h.payloads == nil {
		h.writeError(w, fmt.Errorf("payload hosting is disabled: %w", interfaces.ErrBackendUnavailable))
		return
	}
	contentType, err := interfaces.ParseContentType(r.URL.Query().Get("type"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, err))
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: could not read payload: %w", interfaces.ErrInvalidArgument, err))
		return
	}
	if len(data) == 0 {
		h.writeError(w, fmt.Errorf("%w: empty payload", interfaces.ErrInvalidArgument))
		return
	}

	id, err := h.payloads.Store(r.Context(), data, contentType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	caller, _ := callerFrom(r.Context())
	h.log.Info("Payload stored", "contentID", id.String(), "type", contentType.String(), "uploader", caller.Hex(), "size", len(data))
	h.writeJSON(w, http.StatusCreated, api.PayloadResponse{ContentID: id.String(), Type: contentType.String()})
}

// HandleDownloadPayload serves a stored payload by content ID.
//
// URL format: GET /api/v1/payloads/{content_id}?type=payload|manifest
func (h *Handler) HandleDownloadPayload(w http.ResponseWriter, r *http.Request) {
	if h.payloads == nil {
		h.writeError(w, fmt.Errorf("payload hosting is disabled: %w", interfaces.ErrBackendUnavailable))
		return
	}
	id, err := interfaces.NewContentIDFromHex(chi.URLParam(r, "content_id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, err))
		return
	}
	contentType, err := interfaces.ParseContentType(r.URL.Query().Get("type"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, err))
		return
	}

	data, err := h.payloads.Fetch(r.Context(), id, contentType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleSetContract maps a name to an address in the address registry. Admin only.
//
// URL format: POST /api/v1/contracts
func (h *Handler) HandleSetContract(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.writeError(w, fmt.Errorf("%w: address registry is disabled", interfaces.ErrNotFound))
		return
	}
	var req api.ContractRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller, _ := callerFrom(r.Context())
	if err := h.registry.SetContractAddress(caller, req.Name, req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetContract resolves a name in the address registry.
//
// URL format: GET /api/v1/contracts/{name}
func (h *Handler) HandleGetContract(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.writeError(w, fmt.Errorf("%w: address registry is disabled", interfaces.ErrNotFound))
		return
	}
	name := chi.URLParam(r, "name")
	addr, err := h.registry.ContractAddress(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ContractResponse{Name: name, Address: addr})
}

// decode parses a JSON request body, writing a 400 response on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body: %w", interfaces.ErrInvalidArgument, err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps ledger and storage errors to their HTTP status.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := api.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err, "status", status)
	} else {
		h.log.Debug("Request rejected", "err", err, "status", status)
	}

	message := err.Error()
	if code == api.CodeInternal {
		message = "internal server error"
	}
	h.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

func parseAddress(raw string) (interfaces.Principal, error) {
	if !common.IsHexAddress(raw) {
		return interfaces.Principal{}, fmt.Errorf("%w: invalid address %q", interfaces.ErrInvalidArgument, raw)
	}
	return common.HexToAddress(raw), nil
}

func pairQuery(r *http.Request) (string, interfaces.Principal, error) {
	query := r.URL.Query()
	uid := query.Get("uid")
	if uid == "" {
		return "", interfaces.Principal{}, fmt.Errorf("%w: uid is required", interfaces.ErrInvalidArgument)
	}
	buyer, err := parseAddress(query.Get("buyer"))
	return uid, buyer, err
}
