// Package api exposes the sale ledger over HTTP and streams its
// notifications over WebSocket.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/model"
	"github.com/atmx/lootbox-sale/internal/sale"
)

// AccountHeader carries the calling account.
const AccountHeader = "X-Account"

// Handler serves the sale ledger's HTTP API.
type Handler struct {
	svc *sale.Service
}

// NewHandler creates the HTTP handlers for svc.
func NewHandler(svc *sale.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the API under r. hub may be nil.
func (h *Handler) Routes(r chi.Router, hub *Hub) {
	r.Use(Identity)

	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Get("/capacity", h.GetCapacity)
	r.Put("/capacity", h.SetCapacity)

	r.Get("/orders", h.ListOrders)
	r.Post("/orders", h.CreateSell)
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", h.GetOrder)
		r.Put("/", h.EditSell)
		r.Post("/cancel", h.CancelSell)
		r.Post("/buy", h.BuyItem)
		r.Post("/reveal", h.RevealOne)
		r.Post("/reveal-batch", h.RevealBatch)
		r.Get("/events", h.OrderEvents)
	})

	r.Get("/holdings/{account}", h.GetHoldings)
	r.Post("/withdraw", h.Withdraw)
	r.Post("/receive", h.Receive)
}

// Identity puts the X-Account header into the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if account := r.Header.Get(AccountHeader); account != "" {
			r = r.WithContext(auth.WithActor(r.Context(), model.Address(account)))
		}
		next.ServeHTTP(w, r)
	})
}

// --- Request/Response types ---

// CapacityRequest is the JSON body for PUT /capacity.
type CapacityRequest struct {
	Capacity uint64 `json:"capacity"`
}

// RevealRequest is the JSON body for POST /orders/{orderID}/reveal.
type RevealRequest struct {
	Collection model.Address `json:"collection"`
	ItemID     uint64        `json:"item_id"`
	Buyer      model.Address `json:"buyer"`
}

// BatchRevealRequest is the JSON body for POST /orders/{orderID}/reveal-batch.
type BatchRevealRequest struct {
	Collections []model.Address `json:"collections"`
	ItemIDs     []uint64        `json:"item_ids"`
	Buyer       model.Address   `json:"buyer"`
}

// BuyResponse is the JSON body returned from POST /orders/{orderID}/buy.
type BuyResponse struct {
	Order    model.SellOrder `json:"order"`
	Path     string          `json:"path"`
	Payment  sale.Payment    `json:"payment"`
	Holdings uint64          `json:"holdings"`
}

// WithdrawRequest is the JSON body for POST /withdraw.
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ReceiveRequest is the JSON body for POST /receive.
type ReceiveRequest struct {
	Batch     bool                `json:"batch"`
	Transfers []sale.ItemTransfer `json:"transfers"`
}

// ReceiveResponse carries the acceptance signal as a hex selector.
type ReceiveResponse struct {
	Signal string `json:"signal"`
}

// --- Capacity ---

// GetCapacity handles GET /api/v1/capacity
func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Capacity(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetCapacity handles PUT /api/v1/capacity
func (h *Handler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	var req CapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}
	st, err := h.svc.SetCapacity(r.Context(), req.Capacity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Orders ---

// ListOrders handles GET /api/v1/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []model.SellOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CreateSell handles POST /api/v1/orders
func (h *Handler) CreateSell(w http.ResponseWriter, r *http.Request) {
	var req sale.SellParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}
	o, err := h.svc.CreateSell(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.svc.Order(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// EditSell handles PUT /api/v1/orders/{orderID}
func (h *Handler) EditSell(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req sale.SellParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}
	o, err := h.svc.EditSell(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelSell handles POST /api/v1/orders/{orderID}/cancel
func (h *Handler) CancelSell(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.svc.CancelSell(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// OrderEvents handles GET /api/v1/orders/{orderID}/events
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	events, err := h.svc.Events(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Purchases and reveals ---

// BuyItem handles POST /api/v1/orders/{orderID}/buy
// The buyer is the X-Account caller.
func (h *Handler) BuyItem(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	rc, err := h.svc.BuyItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BuyResponse{
		Order:    rc.Order,
		Path:     rc.Payment.Path(),
		Payment:  rc.Payment,
		Holdings: rc.Holdings,
	})
}

// RevealOne handles POST /api/v1/orders/{orderID}/reveal
func (h *Handler) RevealOne(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req RevealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}
	rv, err := h.svc.RevealOne(r.Context(), sale.RevealInput{
		OrderID:    id,
		Collection: req.Collection,
		ItemID:     req.ItemID,
		Buyer:      req.Buyer,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

// RevealBatch handles POST /api/v1/orders/{orderID}/reveal-batch
func (h *Handler) RevealBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req BatchRevealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}
	rv, err := h.svc.RevealBatch(r.Context(), sale.BatchRevealInput{
		OrderID:     id,
		Collections: req.Collections,
		ItemIDs:     req.ItemIDs,
		Buyer:       req.Buyer,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

// GetHoldings handles GET /api/v1/holdings/{account}
func (h *Handler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	account := model.Address(chi.URLParam(r, "account"))
	holdings, err := h.svc.Holdings(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

// --- Custody ---

// Withdraw handles POST /api/v1/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}
	wd, err := h.svc.Withdraw(r.Context(), req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// Receive handles POST /api/v1/receive
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}

	var signal uint32
	switch {
	case req.Batch:
		signal = h.svc.OnBatchReceived(r.Context(), req.Transfers)
	case len(req.Transfers) == 1:
		signal = h.svc.OnItemReceived(r.Context(), req.Transfers[0])
	default:
		writeError(w, "single receive takes exactly one transfer", "validation", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ReceiveResponse{Signal: fmt.Sprintf("0x%08x", signal)})
}

// --- Helpers ---

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, "invalid order id", "validation", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// statusFor maps an error class to its HTTP status.
func statusFor(k sale.Kind) int {
	switch k {
	case sale.KindValidation:
		return http.StatusBadRequest
	case sale.KindAuthorization:
		return http.StatusForbidden
	case sale.KindNotFound:
		return http.StatusNotFound
	case sale.KindState, sale.KindConflict:
		return http.StatusConflict
	case sale.KindFunds:
		return http.StatusPaymentRequired
	case sale.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	kind := sale.Classify(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, kind.String(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
