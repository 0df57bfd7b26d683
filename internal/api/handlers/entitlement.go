package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"invoicely/internal/core"
	"invoicely/internal/entitlement"
	"invoicely/internal/localstore"
	"invoicely/internal/types"
)

// EntitlementService is the subset of entitlement.Service the handlers use.
type EntitlementService interface {
	GetEntitlement(ctx context.Context, userID string) (*types.Entitlement, error)
	IsProUser(ctx context.Context, userID string) (bool, error)
	InvoicesRemaining(ctx context.Context, userID string) (*entitlement.Remaining, error)
	CanCreateInvoice(ctx context.Context, userID string) (bool, error)
	RecordInvoiceCreated(ctx context.Context, userID string) (*entitlement.RecordResult, error)
	MigrateFrom(ctx context.Context, userID string, src entitlement.LocalSource) (*types.MigrationResult, error)
	History(ctx context.Context, userID string, withInvoices bool) (*entitlement.CloudHistory, error)
}

// EntitlementHandler serves the caller's own entitlement.
type EntitlementHandler struct {
	svc       EntitlementService
	validator *core.Validator
	logger    *slog.Logger
}

func NewEntitlementHandler(svc EntitlementService, validator *core.Validator, logger *slog.Logger) *EntitlementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementHandler{svc: svc, validator: validator, logger: logger}
}

func (h *EntitlementHandler) RegisterRoutes(r chi.Router) {
	r.Get("/entitlement", h.Get)
	r.Get("/entitlement/pro", h.Pro)
	r.Get("/entitlement/remaining", h.Remaining)
	r.Get("/invoices", h.History)
	r.Get("/invoices/can-create", h.CanCreate)
	r.Post("/invoices/record", h.Record)
	r.Post("/migration", h.Migrate)
}

// Get handles GET /v1/entitlement.
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.RequireUser(w, r)
	if !ok {
		return
	}
	e, err := h.svc.GetEntitlement(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, e)
}

type proResponse struct {
	Pro bool `json:"pro"`
}

// Pro handles GET /v1/entitlement/pro.
func (h *EntitlementHandler) Pro(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.RequireUser(w, r)
	if !ok {
		return
	}
	pro, err := h.svc.IsProUser(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, proResponse{Pro: pro})
}

// Remaining handles GET /v1/entitlement/remaining.
func (h *EntitlementHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.RequireUser(w, r)
	if !ok {
		return
	}
	rem, err := h.svc.InvoicesRemaining(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, rem)
}

// History handles GET /v1/invoices: the caller's cloud invoices and business
// profile. ?summary=true returns the count without the list.
func (h *EntitlementHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.RequireUser(w, r)
	if !ok {
		return
	}
	summary := r.URL.Query().Get("summary") == "true"
	hist, err := h.svc.History(r.Context(), userID, !summary)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, hist)
}

type canCreateResponse struct {
	Allowed bool `json:"allowed"`
}

// CanCreate handles GET /v1/invoices/can-create. It is advisory; the
// authoritative check is POST /v1/invoices/record.
func (h *EntitlementHandler) CanCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.RequireUser(w, r)
	if !ok {
		return
	}
	allowed, err := h.svc.CanCreateInvoice(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, canCreateResponse{Allowed: allowed})
}

// Record handles POST /v1/invoices/record, called after an invoice is saved.
// At the Free ceiling it answers 403 limit_invoices_exceeded.
func (h *EntitlementHandler) Record(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.RequireUser(w, r)
	if !ok {
		return
	}
	res, err := h.svc.RecordInvoiceCreated(r.Context(), userID)
	if err != nil {
		if !types.IsQuotaExceeded(err) {
			h.logger.WarnContext(r.Context(), "recording invoice failed", "user_id", userID, "error", err)
		}
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

type migrationRequest struct {
	Invoices     []types.LocalInvoice `json:"invoices" validate:"max=10000,dive"`
	BusinessInfo *types.BusinessInfo  `json:"business_info"`
}

// Migrate handles POST /v1/migration: the device uploads its pre-account
// history once after sign-in. Repeating the call is harmless. A partial copy
// answers 202 with the result so the client retries later.
func (h *EntitlementHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.RequireUser(w, r)
	if !ok {
		return
	}

	var req migrationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.svc.MigrateFrom(r.Context(), userID, localstore.NewStaticSource(req.Invoices, req.BusinessInfo))
	switch {
	case err == nil:
		core.Data(w, r, http.StatusOK, res)
	case types.IsCode(err, types.ErrCodeMigrationPartialFailure) && res != nil:
		core.Data(w, r, http.StatusAccepted, res)
	default:
		core.Error(w, r, err)
	}
}
