package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/cafeteria-system/services/menu-stock-service-go/internal/stock"
)

// StockService is the part of stock.Service the operator API drives.
type StockService interface {
	Get(ctx context.Context, groupID string) (stock.Result, error)
	Provision(ctx context.Context, groupID string, capacity int) (stock.Result, error)
	Deprovision(ctx context.Context, groupID string) error
	Deduct(ctx context.Context, groupID string, amount int) (stock.Result, error)
	SetStock(ctx context.Context, groupID string, value int) (stock.Result, error)
	ResetDaily(ctx context.Context, groupID string) error
}

type Handler struct {
	svc    StockService
	logger *zap.Logger
}

func NewHandler(svc StockService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Get(r.Context(), chi.URLParam(r, "groupId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type provisionRequest struct {
	GroupID  string `json:"groupId"`
	Capacity int    `json:"capacity"`
}

func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GroupID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Provision(r.Context(), req.GroupID, req.Capacity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Deprovision(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Deprovision(r.Context(), chi.URLParam(r, "groupId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deductRequest struct {
	Amount int `json:"amount"`
}

func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := h.svc.Deduct(r.Context(), chi.URLParam(r, "groupId"), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type setStockRequest struct {
	Stock *int `json:"stock"`
}

func (h *Handler) SetStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stock == nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := h.svc.SetStock(r.Context(), chi.URLParam(r, "groupId"), *req.Stock)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ResetDaily(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	if err := h.svc.ResetDaily(r.Context(), groupID); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Get(r.Context(), groupID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, stock.ErrInvalidValue):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, stock.ErrGroupNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, stock.ErrInsufficientStock):
		http.Error(w, "insufficient stock", http.StatusConflict)
	case errors.Is(err, stock.ErrAlreadyExists):
		http.Error(w, "already exists", http.StatusConflict)
	case errors.Is(err, stock.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "busy, retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("stock request failed",
			zap.String("path", r.URL.Path),
			zap.String("group_id", chi.URLParam(r, "groupId")),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
