package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/core/service"
	"github.com/rl1809/inventory/internal/metrics"
)

const idempotencyKeyHeader = "Idempotency-Key"

type HTTPHandler struct {
	ledger   *service.Ledger
	catalog  *service.CatalogService
	purchase *service.PurchaseService
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type ItemHTTPRequest struct {
	Name        string           `json:"name" validate:"required"`
	Variant     string           `json:"variant"`
	SKU         string           `json:"sku"`
	Qty         *int             `json:"qty" validate:"required,gte=0"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
}

func (r ItemHTTPRequest) fields() domain.ItemFields {
	return domain.ItemFields{
		Name:        r.Name,
		Variant:     r.Variant,
		SKU:         r.SKU,
		Qty:         *r.Qty,
		Description: r.Description,
		Price:       *r.Price,
	}
}

type PurchaseLineHTTPRequest struct {
	ID  string `json:"id" validate:"required"`
	Qty int    `json:"qty" validate:"gt=0"`
}

type buyHTTPRequest struct {
	Lines []PurchaseLineHTTPRequest `validate:"dive"`
}

type ItemHTTPResponse struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Variant     string      `json:"variant"`
	SKU         string      `json:"sku"`
	Qty         int         `json:"qty"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	Version     int         `json:"version"`
}

type IDHTTPResponse struct {
	ID string `json:"id"`
}

type StatusHTTPResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type BuyHTTPResponse struct {
	Success     bool        `json:"success"`
	TotalPrice  json.Number `json:"total_price,omitempty"`
	Error       string      `json:"error,omitempty"`
	ItemID      string      `json:"item_id,omitempty"`
	Compensated bool        `json:"compensated,omitempty"`
}

func NewHTTPHandler(ledger *service.Ledger, catalog *service.CatalogService, purchase *service.PurchaseService, m *metrics.Metrics, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		ledger:   ledger,
		catalog:  catalog,
		purchase: purchase,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		logger:   logger,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	h.route(mux, "GET /health", h.HealthCheck)
	h.route(mux, "POST /items", h.CreateItem)
	h.route(mux, "GET /items/{id}", h.GetItem)
	h.route(mux, "PUT /items/{id}", h.UpdateItem)
	h.route(mux, "PUT /items/{id}/add", h.AddStock)
	h.route(mux, "PUT /items/{id}/remove", h.RemoveStock)
	h.route(mux, "DELETE /items/{id}", h.DeleteItem)
	h.route(mux, "POST /buy", h.Buy)
	h.route(mux, "GET /search", h.Search)
}

func (h *HTTPHandler) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	observer := h.metrics.HTTPRequestDuration.MustCurryWith(prometheus.Labels{"route": pattern})
	mux.Handle(pattern, promhttp.InstrumentHandlerDuration(observer, fn))
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemHTTPRequest
	if !h.decode(w, r, &req) || !h.check(w, req) {
		return
	}

	id, err := h.catalog.CreateItem(r.Context(), req.fields())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IDHTTPResponse{ID: id})
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(*item))
}

// UpdateItem replaces the whole record. An If-Match header holding the
// item version turns it into a conditional update.
func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemHTTPRequest
	if !h.decode(w, r, &req) || !h.check(w, req) {
		return
	}

	id := r.PathValue("id")
	var err error
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		version, convErr := strconv.Atoi(ifMatch)
		if convErr != nil {
			writeJSON(w, http.StatusBadRequest, StatusHTTPResponse{Success: false, Error: "If-Match must be an item version"})
			return
		}
		err = h.catalog.UpdateItemIfVersion(r.Context(), id, req.fields(), version)
	} else {
		err = h.catalog.UpdateItem(r.Context(), id, req.fields())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusHTTPResponse{Success: true})
}

func (h *HTTPHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ledger.Restock(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusHTTPResponse{Success: true})
}

func (h *HTTPHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ledger.Consume(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusHTTPResponse{Success: true})
}

func (h *HTTPHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.catalog.DeleteItem(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IDHTTPResponse{ID: id})
}

func (h *HTTPHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req buyHTTPRequest
	if !h.decode(w, r, &req.Lines) || !h.check(w, req) {
		return
	}

	lines := make([]domain.PurchaseLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = domain.PurchaseLine{ItemID: l.ID, Qty: l.Qty}
	}

	result, err := h.purchase.BuyOnce(r.Context(), r.Header.Get(idempotencyKeyHeader), lines)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if !result.Success {
		status, message := statusFor(result.Err)
		writeJSON(w, status, BuyHTTPResponse{
			Success:     false,
			Error:       message,
			ItemID:      result.FailedItemID,
			Compensated: result.Compensated,
		})
		return
	}

	writeJSON(w, http.StatusOK, BuyHTTPResponse{
		Success:    true,
		TotalPrice: json.Number(result.TotalPrice.String()),
	})
}

func (h *HTTPHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, StatusHTTPResponse{Success: false, Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	items, err := h.catalog.Search(r.Context(), query.Get("term"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]ItemHTTPResponse, len(items))
	for i, item := range items {
		resp[i] = toItemResponse(item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, StatusHTTPResponse{
			Success: false,
			Error:   "invalid request body",
		})
		return false
	}
	return true
}

func (h *HTTPHandler) check(w http.ResponseWriter, v interface{}) bool {
	if err := h.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, StatusHTTPResponse{
			Success: false,
			Error:   err.Error(),
		})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, StatusHTTPResponse{Success: false, Error: message})
}

// statusFor maps a core error onto an HTTP status and a client-facing message.
func statusFor(err error) (int, string) {
	var stockErr *domain.InsufficientStockError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Item not found"
	case errors.As(err, &stockErr):
		return http.StatusConflict, stockErr.Error()
	case errors.Is(err, domain.ErrInvalidItem),
		errors.Is(err, domain.ErrInvalidPurchaseLine),
		errors.Is(err, domain.ErrInvalidSearchTerm):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "inventory store unavailable, retry later"
	case errors.Is(err, domain.ErrWriteConflict):
		return http.StatusConflict, "item was modified concurrently"
	}
	return http.StatusInternalServerError, "internal error"
}

func toItemResponse(item domain.Item) ItemHTTPResponse {
	return ItemHTTPResponse{
		ID:          item.ID,
		Name:        item.Name,
		Variant:     item.Variant,
		SKU:         item.SKU,
		Qty:         item.Qty,
		Description: item.Description,
		Price:       json.Number(item.Price.String()),
		Version:     item.Version,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
