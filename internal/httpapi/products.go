package httpapi

import (
	"context"
	"net/http"
	"strings"

	"norruva.org/internal/domain"
	"norruva.org/internal/store"
	"norruva.org/internal/workflow"
)

type productOp func(ctx context.Context, actor *domain.User, id string) (*domain.Product, error)

type bulkOp func(ctx context.Context, actor *domain.User, ids []string) workflow.BulkResult

type reasonRequest struct {
	Reason string                 `json:"reason"`
	Gaps   []domain.ComplianceGap `json:"gaps,omitempty"`
}

type complianceCheckRequest struct {
	PathID string `json:"pathId"`
}

type serviceRecordRequest struct {
	Description string `json:"description"`
}

type bulkRequest struct {
	IDs []string `json:"ids"`
}

type bulkResponse struct {
	workflow.BulkResult
	Count int `json:"count"`
}

func productFilter(r *http.Request) store.ProductFilter {
	q := r.URL.Query()
	return store.ProductFilter{
		CompanyID:          strings.TrimSpace(q.Get("companyId")),
		Status:             domain.ProductStatus(q.Get("status")),
		VerificationStatus: domain.VerificationStatus(q.Get("verificationStatus")),
		Category:           strings.TrimSpace(q.Get("category")),
	}
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Engine.GetProducts(r.Context(), actor(r), productFilter(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) exportProducts(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Engine.ExportProducts(r.Context(), actor(r), productFilter(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="passports.json"`)
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Engine.GetProductByID(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	var in workflow.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	p, err := a.svc.Engine.SaveProduct(r.Context(), actor(r), "", in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/products/"+p.ID)
	writeJSON(w, http.StatusAccepted, p)
}

func (a *API) updateProduct(w http.ResponseWriter, r *http.Request) {
	var in workflow.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	p, err := a.svc.Engine.SaveProduct(r.Context(), actor(r), r.PathValue("id"), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Engine.DeleteProduct(r.Context(), actor(r), r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// productAction serves the body-less workflow operations.
func (a *API) productAction(op productOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := op(r.Context(), actor(r), r.PathValue("id"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		code := http.StatusOK
		if p.IsMinting || p.IsProcessing {
			code = http.StatusAccepted
		}
		writeJSON(w, code, p)
	}
}

func (a *API) rejectProduct(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	p, err := a.svc.Engine.RejectPassport(r.Context(), actor(r), r.PathValue("id"), req.Reason, req.Gaps)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) overrideProduct(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	p, err := a.svc.Engine.OverrideVerification(r.Context(), actor(r), r.PathValue("id"), req.Reason)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) complianceCheck(w http.ResponseWriter, r *http.Request) {
	var req complianceCheckRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeDecodeError(w, r, err)
			return
		}
	}
	p, err := a.svc.Engine.RunComplianceCheck(r.Context(), actor(r), r.PathValue("id"), strings.TrimSpace(req.PathID))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) addCustody(w http.ResponseWriter, r *http.Request) {
	var step domain.CustodyStep
	if err := decodeJSON(w, r, &step); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	p, err := a.svc.Engine.AddCustodyStep(r.Context(), actor(r), r.PathValue("id"), step)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) addServiceRecord(w http.ResponseWriter, r *http.Request) {
	var req serviceRecordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	p, err := a.svc.Engine.AddServiceRecord(r.Context(), actor(r), r.PathValue("id"), req.Description)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) productAuditLogs(w http.ResponseWriter, r *http.Request) {
	if a.svc.Audit == nil {
		unavailable(w, r, "audit log")
		return
	}
	logs, err := a.svc.Audit.ForEntity(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

// bulk always answers 200; per-item failures are in the body.
func (a *API) bulk(op bulkOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		if len(req.IDs) == 0 {
			writeError(w, r, http.StatusBadRequest, "ids are required")
			return
		}
		if len(req.IDs) > 500 {
			writeError(w, r, http.StatusBadRequest, "at most 500 ids per request")
			return
		}
		res := op(r.Context(), actor(r), req.IDs)
		writeJSON(w, http.StatusOK, bulkResponse{BulkResult: res, Count: res.Count()})
	}
}
