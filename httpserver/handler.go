package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/identity-verification-dapp/interfaces"
	"github.com/ruteri/identity-verification-dapp/orchestrator"
	"github.com/ruteri/identity-verification-dapp/session"
	"github.com/ruteri/identity-verification-dapp/storage"
	"github.com/ruteri/identity-verification-dapp/translator"
)

// maxBodySize is the maximum allowed request body size (64KB).
const maxBodySize = 64 * 1024

// Handler serves the identity API on top of one wallet session.
type Handler struct {
	sessions      *session.Manager
	orchestrator  *orchestrator.Orchestrator
	notifications *NotificationLog
	ipfsGateway   string
	log           *slog.Logger
}

// NewHandler creates the API handler. ipfsGateway is used to link fetched
// records to their documents.
func NewHandler(sessions *session.Manager, orch *orchestrator.Orchestrator, ipfsGateway string, log *slog.Logger) *Handler {
	return &Handler{
		sessions:      sessions,
		orchestrator:  orch,
		notifications: NewNotificationLog(orch, defaultNotificationLogSize),
		ipfsGateway:   ipfsGateway,
		log:           log,
	}
}

// Close releases the session listeners and pending work.
func (h *Handler) Close() {
	h.notifications.Close()
	h.orchestrator.Close()
	h.sessions.Close()
}

type sessionResponse struct {
	Account      string             `json:"account,omitempty"`
	ShortAccount string             `json:"short_account,omitempty"`
	ChainID      uint64             `json:"chain_id,omitempty"`
	State        string             `json:"state"`
	LastError    string             `json:"last_error,omitempty"`
	Network      translator.Network `json:"network"`
	Supported    bool               `json:"supported"`
	Contract     string             `json:"contract,omitempty"`
	Busy         bool               `json:"busy"`
}

type registerRequest struct {
	Name        string `json:"name"`
	ContentHash string `json:"ipfs_hash"`
}

type identityResponse struct {
	Found      bool                       `json:"found"`
	Message    string                     `json:"message"`
	Record     *interfaces.IdentityRecord `json:"record,omitempty"`
	GatewayURL string                     `json:"gateway_url,omitempty"`
}

type errorResponse struct {
	Category    interfaces.Category         `json:"category"`
	Message     string                      `json:"message"`
	FieldErrors map[interfaces.Field]string `json:"field_errors,omitempty"`
}

// HandleConnect connects the wallet and returns the session.
//
// URL format: POST /api/wallet/connect
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Connect(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// HandleDisconnect drops the session.
//
// URL format: POST /api/wallet/disconnect
func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.sessions.Disconnect()
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// HandleSession returns the current session.
//
// URL format: GET /api/session
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// HandleRegister registers an identity for the connected account and waits
// for the transaction to be mined.
//
// URL format: POST /api/identity
// Request body: {"name": "...", "ipfs_hash": "Qm..."}
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, interfaces.NewError(interfaces.CategoryValidation, "Invalid request body", err))
		return
	}

	res, err := h.orchestrator.Register(r.Context(), req.Name, req.ContentHash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleFetch returns the connected account's identity.
//
// URL format: GET /api/identity
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	res, err := h.orchestrator.Fetch(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := identityResponse{Found: res.Found, Message: res.Message, Record: res.Record}
	if res.Record != nil {
		link, err := storage.GatewayURL(h.ipfsGateway, res.Record.ContentHash)
		if err != nil {
			h.log.Debug("Record has no gateway link", "hash", res.Record.ContentHash, "err", err)
		}
		resp.GatewayURL = link
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleNetwork describes a chain id.
//
// URL format: GET /api/network/{chain_id}
func (h *Handler) HandleNetwork(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chain_id"), 10, 64)
	if err != nil {
		h.writeError(w, interfaces.NewError(interfaces.CategoryValidation, "Invalid chain id", err))
		return
	}
	h.writeJSON(w, http.StatusOK, translator.DescribeNetwork(chainID))
}

// HandleNotifications returns the notifications that are still visible.
//
// URL format: GET /api/notifications
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.notifications.Visible())
}

func (h *Handler) sessionResponse() sessionResponse {
	snap := h.sessions.Snapshot()
	resp := sessionResponse{
		ChainID:   snap.Session.ChainID,
		State:     snap.Session.State.String(),
		LastError: snap.Session.LastError,
		Network:   snap.Network,
		Supported: snap.Supported,
		Busy:      h.orchestrator.Busy(),
	}
	if snap.Session.HasAccount() {
		resp.Account = snap.Session.Account.Hex()
		resp.ShortAccount = translator.FormatAddress(snap.Session.Account.Hex())
	}
	if snap.Binding != nil {
		resp.Contract = snap.Binding.Address.Hex()
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *interfaces.ValidationErrors
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{
			Category:    interfaces.CategoryValidation,
			Message:     verr.Error(),
			FieldErrors: verr.Fields,
		})
		return
	}

	translated := translator.Translate(err)
	status := StatusFor(translated.Category)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err, "category", translated.Category)
	}
	h.writeJSON(w, status, errorResponse{Category: translated.Category, Message: translated.Message})
}

// StatusFor maps an error category to an HTTP status code.
func StatusFor(category interfaces.Category) int {
	switch category {
	case interfaces.CategoryValidation:
		return http.StatusBadRequest
	case interfaces.CategoryUserRejected:
		return http.StatusForbidden
	case interfaces.CategoryNotReady, interfaces.CategoryNonceTooLow:
		return http.StatusConflict
	case interfaces.CategoryInsufficientFunds:
		return http.StatusPaymentRequired
	case interfaces.CategoryGasExceeded, interfaces.CategoryUnderpriced, interfaces.CategoryReverted:
		return http.StatusUnprocessableEntity
	case interfaces.CategoryNoWalletCapability:
		return http.StatusServiceUnavailable
	case interfaces.CategoryNetworkError, interfaces.CategoryContractUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
