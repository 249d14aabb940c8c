package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/service/copyoperation"
)

// CopyOperations starts and reports copy operations
type CopyOperations interface {
	Start(ctx context.Context, req copyoperation.StartRequest) (*types.CopyOperation, error)
	Get(ctx context.Context, id string) (*copyoperation.Status, error)
}

// CopyOperationHandler handles copy operation API requests
type CopyOperationHandler struct {
	service CopyOperations
}

// NewCopyOperationHandler creates a new copy operation handler
func NewCopyOperationHandler(service CopyOperations) *CopyOperationHandler {
	return &CopyOperationHandler{
		service: service,
	}
}

// Start handles POST /copy-operations
func (h *CopyOperationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req copyoperation.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.InvalidArgument("invalid request body: "+err.Error()))
		return
	}

	op, err := h.service.Start(r.Context(), req)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", r.URL.Path+"/"+op.ID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(op)
}

// GetStatus handles GET /copy-operations/{id}
func (h *CopyOperationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := h.service.Get(r.Context(), id)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
